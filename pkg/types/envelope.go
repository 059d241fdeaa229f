package types

import "encoding/json"

// Envelope is the one response shape every REST endpoint returns
// ARCHITECTURAL DISCOVERY: Success and failure share a fixed outer shape so the
// client validates once at the network boundary
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *EnvelopeError  `json:"error,omitempty"`
}

// EnvelopeError describes a failed request.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in EnvelopeError.Code
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

// NewEnvelope wraps a payload in a success envelope.
func NewEnvelope(data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Success: true, Data: raw}, nil
}

// NewErrorEnvelope builds a failure envelope.
func NewErrorEnvelope(code, message string) *Envelope {
	return &Envelope{Success: false, Error: &EnvelopeError{Code: code, Message: message}}
}
