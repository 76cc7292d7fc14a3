package chat

import "fmt"

// ConfigError reports missing or invalid configuration, detected before any
// network call is made.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: missing %s", e.Field)
}

// APIError reports a non-2xx response from the model endpoint, carrying the
// HTTP status and whatever message the provider supplied.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Message)
}

// ResponseFormatError reports an unparseable body on a non-streaming call.
type ResponseFormatError struct {
	Body string
}

func (e *ResponseFormatError) Error() string {
	body := e.Body
	if len(body) > 120 {
		body = body[:120] + "…"
	}
	return fmt.Sprintf("response format: %s", body)
}
