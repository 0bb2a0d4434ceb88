package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error описывает отказ шлюза с кодом HTTP и телом ошибки.
type Error struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %d %s (%s): %s", e.StatusCode, e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %d %s: %s", e.StatusCode, e.Type, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Message == "" {
		return &Error{
			StatusCode: status,
			Type:       "http_error",
			Message:    http.StatusText(status),
		}
	}

	return &Error{
		StatusCode: status,
		Type:       env.Error.Type,
		Code:       env.Error.Code,
		Message:    env.Error.Message,
	}
}
