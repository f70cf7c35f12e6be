// Package api defines the wire types of the realm HTTP protocol and a
// client for it. Byte fields travel base64-encoded through encoding/json's
// default []byte handling.
package api

// RegisterRequest creates or replaces a user record. BlindedInput is the
// client's blinded PIN element; EncryptedShare is opaque to the realm and
// stored verbatim.
type RegisterRequest struct {
	BlindedInput   []byte        `json:"blinded_input"`
	EncryptedShare []byte        `json:"encrypted_share"`
	Policy         LockoutPolicy `json:"policy"`
}

// LockoutPolicy caps how many recovery attempts a generation tolerates.
type LockoutPolicy struct {
	GuessLimit uint32 `json:"guess_limit"`
}

// RegisterResponse acknowledges a registration with the new generation and
// the evaluation of the registration's blinded input.
type RegisterResponse struct {
	Generation    uint64 `json:"generation"`
	BlindedResult []byte `json:"blinded_result"`
}

// RecoverRequest attempts one guess against the named generation.
type RecoverRequest struct {
	Generation   uint64 `json:"generation"`
	BlindedGuess []byte `json:"blinded_guess"`
}

// RecoverResponse carries the evaluation of a charged guess together with
// the budget position after the charge.
type RecoverResponse struct {
	BlindedResult []byte `json:"blinded_result"`
	GuessCount    uint32 `json:"guess_count"`
	GuessLimit    uint32 `json:"guess_limit"`
}

// StatusResponse is the read-only view of a record. Generation 0 with
// registered=false means no record exists.
type StatusResponse struct {
	Registered bool   `json:"registered"`
	Generation uint64 `json:"generation"`
	GuessCount uint32 `json:"guess_count"`
	GuessLimit uint32 `json:"guess_limit"`
	Locked     bool   `json:"locked"`
}

// ErrorResponse is the JSON envelope for every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure with a stable machine-readable code.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
