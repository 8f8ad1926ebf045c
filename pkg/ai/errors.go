package ai

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyResponse = errors.New("empty response from model")
	ErrBlocked       = errors.New("response blocked by model safety filter")
	ErrSkipped       = errors.New("platform metadata file skipped")
	ErrMissingAPIKey = errors.New("model api key required")
)

// ServiceError wraps a transport or status failure from the model provider.
type ServiceError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode > 0:
		return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s api error: %s", e.Provider, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s request: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s api error (%d)", e.Provider, e.StatusCode)
	}
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
