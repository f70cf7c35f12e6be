package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/keyfission/realm-backend/api"
	"github.com/keyfission/realm-backend/cryptoutils"
	"github.com/keyfission/realm-backend/engine"
	"github.com/keyfission/realm-backend/interfaces"
	"github.com/keyfission/realm-backend/storage"
	"github.com/keyfission/realm-backend/tenantauth"
)

const testRealmHex = "29237d86b521e338686006682ddc4531"

var demoKey = []byte("demo-tenant-signing-key-material")

type testServer struct {
	realm interfaces.RealmID
	store *storage.MemoryBackend
	http  *httptest.Server
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	realm, err := interfaces.NewRealmIDFromHex(testRealmHex)
	require.NoError(t, err)

	store := storage.NewMemoryBackend(realm, logger)
	store.SetTenantKey("demo", "1", demoKey)

	handler := NewHandler(realm, tenantauth.New(store, logger), engine.New(store, logger), logger)

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      logger,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, handler)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)

	return &testServer{realm: realm, store: store, http: ts}
}

func signTestToken(t *testing.T, subject string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "demo",
		Subject:   subject,
		Audience:  jwt.ClaimStrings{testRealmHex},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token.Header["kid"] = "demo:1"
	signed, err := token.SignedString(demoKey)
	require.NoError(t, err)
	return signed
}

func blindedElement() []byte {
	return append([]byte(nil), curve25519.Basepoint...)
}

func (ts *testServer) client(t *testing.T, subject string) *api.Client {
	t.Helper()
	return api.NewClient(ts.http.URL, ts.realm, signTestToken(t, subject))
}

// rawRequest issues a request outside the client's guardrails so malformed
// and misrouted cases can be exercised directly.
func rawRequest(t *testing.T, method, url, token string, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()

	var envelope api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error.Code
}

func TestRecoveryLifecycle(t *testing.T) {
	ts := setupServer(t)
	ctx := context.Background()
	client := ts.client(t, "u1")

	registered, err := client.Register(ctx, "u1", &api.RegisterRequest{
		BlindedInput:   blindedElement(),
		EncryptedShare: []byte("ciphertext"),
		Policy:         api.LockoutPolicy{GuessLimit: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), registered.Generation)
	assert.Len(t, registered.BlindedResult, 32)

	status, err := client.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Equal(t, uint32(0), status.GuessCount)

	first, err := client.Recover(ctx, "u1", &api.RecoverRequest{Generation: 1, BlindedGuess: blindedElement()})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), first.GuessCount)
	assert.Equal(t, registered.BlindedResult, first.BlindedResult,
		"same generation evaluates the same key")

	second, err := client.Recover(ctx, "u1", &api.RecoverRequest{Generation: 1, BlindedGuess: blindedElement()})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), second.GuessCount)

	_, err = client.Recover(ctx, "u1", &api.RecoverRequest{Generation: 1, BlindedGuess: blindedElement()})
	assert.ErrorIs(t, err, interfaces.ErrLockedOut)

	status, err = client.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, uint32(2), status.GuessCount)

	// Re-registration is the unlock path.
	registered, err = client.Register(ctx, "u1", &api.RegisterRequest{
		BlindedInput:   blindedElement(),
		EncryptedShare: []byte("ciphertext2"),
		Policy:         api.LockoutPolicy{GuessLimit: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), registered.Generation)

	require.NoError(t, client.Delete(ctx, "u1"))
	require.NoError(t, client.Delete(ctx, "u1"), "delete is idempotent")

	status, err = client.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Registered)
	assert.Equal(t, uint64(0), status.Generation)
}

// TestPinRecoveryRoundTrip walks the whole protocol from the client's side:
// the PIN is stretched into an element, the share is sealed under a key
// derived from the registration evaluation, and only the correct PIN later
// reproduces that key.
func TestPinRecoveryRoundTrip(t *testing.T) {
	ts := setupServer(t)
	ctx := context.Background()
	client := ts.client(t, "u1")

	salt := []byte(testRealmHex + ":u1")
	element := cryptoutils.PinToElement([]byte("1234"), salt)

	registered, err := client.Register(ctx, "u1", &api.RegisterRequest{
		BlindedInput: element,
		Policy:       api.LockoutPolicy{GuessLimit: 2},
	})
	require.NoError(t, err)

	sealed, err := cryptoutils.SealShare(cryptoutils.DeriveShareKey(registered.BlindedResult), []byte("the secret share"))
	require.NoError(t, err)

	// Wrong PIN: evaluation differs, the sealed share stays closed, and one
	// guess is gone.
	wrong, err := client.Recover(ctx, "u1", &api.RecoverRequest{
		Generation:   registered.Generation,
		BlindedGuess: cryptoutils.PinToElement([]byte("9999"), salt),
	})
	require.NoError(t, err)
	_, err = cryptoutils.OpenShare(cryptoutils.DeriveShareKey(wrong.BlindedResult), sealed)
	assert.Error(t, err)
	assert.Equal(t, uint32(1), wrong.GuessCount)

	// Correct PIN: same element, same evaluation, share opens.
	right, err := client.Recover(ctx, "u1", &api.RecoverRequest{
		Generation:   registered.Generation,
		BlindedGuess: element,
	})
	require.NoError(t, err)
	share, err := cryptoutils.OpenShare(cryptoutils.DeriveShareKey(right.BlindedResult), sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("the secret share"), share)
}

func TestRecoverStaleGeneration(t *testing.T) {
	ts := setupServer(t)
	ctx := context.Background()
	client := ts.client(t, "u1")

	_, err := client.Register(ctx, "u1", &api.RegisterRequest{
		BlindedInput: blindedElement(),
		Policy:       api.LockoutPolicy{GuessLimit: 2},
	})
	require.NoError(t, err)

	_, err = client.Recover(ctx, "u1", &api.RecoverRequest{Generation: 7, BlindedGuess: blindedElement()})
	assert.ErrorIs(t, err, interfaces.ErrStaleGeneration)
}

func TestRecoverUnregisteredUser(t *testing.T) {
	ts := setupServer(t)

	_, err := ts.client(t, "u1").Recover(context.Background(), "u1",
		&api.RecoverRequest{Generation: 1, BlindedGuess: blindedElement()})
	assert.ErrorIs(t, err, interfaces.ErrNotRegistered)
}

func TestWrongRealmIsMisdirected(t *testing.T) {
	ts := setupServer(t)

	url := ts.http.URL + "/api/realm/ffffffffffffffffffffffffffffffff/users/u1/status"
	resp := rawRequest(t, http.MethodGet, url, signTestToken(t, "u1"), "")

	assert.Equal(t, http.StatusMisdirectedRequest, resp.StatusCode)
	assert.Equal(t, api.CodeWrongRealm, errorCode(t, resp))
}

func TestUnparsableRealmIsMisdirected(t *testing.T) {
	ts := setupServer(t)

	url := ts.http.URL + "/api/realm/not-a-realm/users/u1/status"
	resp := rawRequest(t, http.MethodGet, url, signTestToken(t, "u1"), "")

	assert.Equal(t, http.StatusMisdirectedRequest, resp.StatusCode)
}

func TestMissingCredential(t *testing.T) {
	ts := setupServer(t)

	url := ts.http.URL + "/api/realm/" + testRealmHex + "/users/u1/status"
	resp := rawRequest(t, http.MethodGet, url, "", "")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, api.CodeMalformedCredential, errorCode(t, resp))
}

func TestSubjectMismatch(t *testing.T) {
	ts := setupServer(t)

	// Token for u1 must not act on u2's record.
	url := ts.http.URL + "/api/realm/" + testRealmHex + "/users/u2/status"
	resp := rawRequest(t, http.MethodGet, url, signTestToken(t, "u1"), "")

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, api.CodeSubjectMismatch, errorCode(t, resp))
}

func TestInvalidBodyIsRejected(t *testing.T) {
	ts := setupServer(t)

	url := ts.http.URL + "/api/realm/" + testRealmHex + "/users/u1/register"
	resp := rawRequest(t, http.MethodPost, url, signTestToken(t, "u1"), "{not json")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, api.CodeInvalidPayload, errorCode(t, resp))
}

func TestUnsupportedOperations(t *testing.T) {
	ts := setupServer(t)
	token := signTestToken(t, "u1")
	base := ts.http.URL + "/api/realm/" + testRealmHex + "/users/u1"

	for _, tc := range []struct {
		method string
		url    string
	}{
		{http.MethodPut, base + "/register"},
		{http.MethodGet, base + "/recover"},
		{http.MethodPost, base + "/status"},
		{http.MethodPost, base + "/unknown"},
	} {
		resp := rawRequest(t, tc.method, tc.url, token, "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "%s %s", tc.method, tc.url)
		assert.Equal(t, api.CodeUnsupportedOperation, errorCode(t, resp))
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := setupServer(t)

	resp := rawRequest(t, http.MethodGet, ts.http.URL+"/livez", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = rawRequest(t, http.MethodGet, ts.http.URL+"/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), testRealmHex, "readiness reports the realm it serves")

	resp = rawRequest(t, http.MethodGet, ts.http.URL+"/drain", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = rawRequest(t, http.MethodGet, ts.http.URL+"/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = rawRequest(t, http.MethodGet, ts.http.URL+"/undrain", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = rawRequest(t, http.MethodGet, ts.http.URL+"/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
