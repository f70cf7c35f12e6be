package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/keyfission/realm-backend/interfaces"
)

// Client talks to one realm on behalf of one tenant user. The token is a
// tenant-signed credential; the client attaches it verbatim and leaves its
// contents to the server.
type Client struct {
	baseURL    string
	realm      interfaces.RealmID
	token      string
	httpClient *http.Client
}

// NewClient creates a realm client.
//
// Parameters:
//   - baseURL: The base URL of the realm API (e.g., "http://localhost:8080")
//   - realm: The realm the token was minted for
//   - token: The tenant-signed bearer credential
//   - timeout: Request timeout duration (optional, default 30 seconds)
func NewClient(baseURL string, realm interfaces.RealmID, token string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: baseURL,
		realm:   realm,
		token:   token,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// Register creates or replaces the user's record, resetting its guess budget
// and advancing its generation.
func (c *Client) Register(ctx context.Context, user interfaces.UserID, request *RegisterRequest) (*RegisterResponse, error) {
	var response RegisterResponse
	if err := c.do(ctx, http.MethodPost, c.userURL(user)+"/register", request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Recover charges one guess and returns the blinded evaluation.
func (c *Client) Recover(ctx context.Context, user interfaces.UserID, request *RecoverRequest) (*RecoverResponse, error) {
	var response RecoverResponse
	if err := c.do(ctx, http.MethodPost, c.userURL(user)+"/recover", request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Delete erases the user's record. Deleting an absent record succeeds.
func (c *Client) Delete(ctx context.Context, user interfaces.UserID) error {
	return c.do(ctx, http.MethodDelete, c.userURL(user), nil, nil)
}

// GetStatus reports the record state without consuming a guess.
func (c *Client) GetStatus(ctx context.Context, user interfaces.UserID) (*StatusResponse, error) {
	var response StatusResponse
	if err := c.do(ctx, http.MethodGet, c.userURL(user)+"/status", nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) userURL(user interfaces.UserID) string {
	return fmt.Sprintf("%s/api/realm/%s/users/%s", c.baseURL, c.realm.String(), string(user))
}

func (c *Client) do(ctx context.Context, method, url string, request, response any) error {
	var body io.Reader
	if request != nil {
		encoded, err := json.Marshal(request)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("realm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to parse realm response: %w", err)
	}
	return nil
}

// decodeError folds the error envelope back onto the sentinel errors so
// callers can errors.Is against the same taxonomy the server uses.
func decodeError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope ErrorResponse
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error.Code != "" {
		if sentinel := ErrorOf(envelope.Error.Code); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, envelope.Error.Message)
		}
		return fmt.Errorf("realm request failed with code %d: %s: %s", resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
	}

	return fmt.Errorf("realm request failed with code %d: %s", resp.StatusCode, string(payload))
}
