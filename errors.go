package orientlog

import (
	"fmt"
	"net/http"
)

// SerializationError reports a value whose runtime kind the renderer does not
// recognize. The event holding it is dropped; it is never stringified.
type SerializationError struct {
	// Type is the Go type of the offending value, as printed by %T.
	Type string

	// Path locates the value inside the event, e.g. "Properties.user.tags[2]".
	Path string
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("orientlog: cannot serialize value of unrecognized kind %s", e.Type)
	}
	return fmt.Sprintf("orientlog: cannot serialize value of unrecognized kind %s at %s", e.Type, e.Path)
}

// DeliveryError reports a terminal non-2xx outcome of a bulk write.
type DeliveryError struct {
	StatusCode int
	Status     string

	// Body is an excerpt of the response body, bounded by maxErrorBody.
	Body string
}

func (e *DeliveryError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Body == "" {
		return fmt.Sprintf("orientlog: delivery failed: %s", status)
	}
	return fmt.Sprintf("orientlog: delivery failed: %s: %s", status, e.Body)
}
