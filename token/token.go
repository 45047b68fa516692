// Package token acquires, decodes, caches and refreshes the JWT used against the
// GraphQL engine.
package token

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims is the decoded payload of a token. Fields holds every claim as decoded,
// exp included; Exp is lifted out because expiry checks depend on it.
type Claims struct {
	Exp    float64
	Fields map[string]interface{}
}

// ExpiresAt converts Exp to a time.Time.
func (c Claims) ExpiresAt() time.Time {
	sec := int64(c.Exp)
	nsec := int64((c.Exp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Get returns the raw value of a claim.
func (c Claims) Get(key string) (interface{}, bool) {
	v, ok := c.Fields[key]
	return v, ok
}

// State is the cached credential: the raw token and its claims.
type State struct {
	Token  string
	Claims Claims
}

type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "token: " + e.Reason + ": " + e.Err.Error()
	}
	return "token: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode reads the claims out of the payload segment of tok. The signature is not checked.
func Decode(tok string) (Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return Claims{}, &DecodeError{Reason: "token contains an invalid number of segments"}
	}

	payload, err := jwt.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, &DecodeError{Reason: "malformed payload encoding", Err: err}
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Claims{}, &DecodeError{Reason: "malformed payload", Err: err}
	}
	if fields == nil {
		return Claims{}, &DecodeError{Reason: "empty payload"}
	}

	exp, ok := fields["exp"].(float64)
	if !ok {
		return Claims{}, &DecodeError{Reason: "exp claim is missing or not a number"}
	}
	return Claims{Exp: exp, Fields: fields}, nil
}
