// ABOUTME: Typed error for identity-provider API failures.
// ABOUTME: Carries HTTP status, provider error code, and human-readable message.

package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is an identity-provider API failure. Status is the HTTP status code;
// Code is the provider's machine-readable error code when one was supplied.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider: %s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("provider: %s (status %d)", e.Message, e.Status)
}

// errorBody covers the wire shapes the provider uses for failures. Older
// endpoints return {"code":400,"msg":"..."}, OAuth-style endpoints return
// {"error":"...","error_description":"..."}, newer ones add "error_code".
type errorBody struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorField       string `json:"error"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// parseError builds an *Error from a non-2xx provider response body.
func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var wire errorBody
	if err := json.Unmarshal(body, &wire); err == nil {
		e.Code = wire.ErrorCode
		switch {
		case wire.Msg != "":
			e.Message = wire.Msg
		case wire.Message != "":
			e.Message = wire.Message
		case wire.ErrorDescription != "":
			e.Message = wire.ErrorDescription
		case wire.ErrorField != "":
			e.Message = wire.ErrorField
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
