package vercel

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError represents an error response from the sandbox API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("sandbox api error (status %d, request_id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("sandbox api error (status %d): %s", e.StatusCode, e.Message)
}

// parseAPIError builds an APIError from a non-2xx response body.
func parseAPIError(status int, requestID string, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, RequestID: requestID}

	var errResp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		apiErr.Code = errResp.Error.Code
		switch {
		case errResp.Error.Message != "":
			apiErr.Message = errResp.Error.Message
		case errResp.Message != "":
			apiErr.Message = errResp.Message
		}
	}
	if apiErr.Message == "" {
		if len(body) > 200 {
			body = body[:200]
		}
		apiErr.Message = string(body)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// NetworkError represents a transport-level failure talking to the API.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
