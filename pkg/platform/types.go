package platform

import (
	"fmt"
	"net/http"
)

// Record is a single row returned by the Table API. Field values are
// strings in the default representation; with display values enabled the
// platform returns nested objects, which GetString unwraps.
type Record map[string]interface{}

// GetString returns the named field as a string, unwrapping the
// {display_value, value} object shape the platform emits when reference
// link expansion is enabled.
func (r Record) GetString(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if s, ok := t["value"].(string); ok {
			return s
		}
		if s, ok := t["display_value"].(string); ok {
			return s
		}
	}
	return fmt.Sprintf("%v", v)
}

// SysID returns the row's sys_id.
func (r Record) SysID() string {
	return r.GetString("sys_id")
}

// IsTrue reports whether a boolean-ish field is set. The platform encodes
// booleans as the strings "true"/"false".
func (r Record) IsTrue(field string) bool {
	return r.GetString(field) == "true"
}

// APIError represents a failed REST call against the platform. The status
// code drives error classification in the deployment layer; a 2xx response
// never produces an APIError.
type APIError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"status_code"`

	// Method is the HTTP method of the failed request.
	Method string `json:"method"`

	// Path is the request path, without the instance host.
	Path string `json:"path"`

	// Message is the error message from the platform's error envelope.
	Message string `json:"message"`

	// Detail is the optional detail string from the error envelope.
	Detail string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode,
			http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode,
		http.StatusText(e.StatusCode))
}

// IsAuth returns true for 401 responses (credentials rejected).
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsForbidden returns true for 403 responses (ACL denied the operation).
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

// IsThrottled returns true for 429 responses.
func (e *APIError) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServer returns true for 5xx responses.
func (e *APIError) IsServer() bool {
	return e.StatusCode >= 500
}

// Temporary reports whether the request may succeed if repeated later.
func (e *APIError) Temporary() bool {
	return e.IsThrottled() || e.IsServer()
}
