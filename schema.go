package orientlog

import (
	"context"
	"fmt"
	"net/http"
)

const (
	classPath    = "class"
	propertyPath = "property"
)

// classProperties declares the typed members of the log record class. The
// Properties member is schemaless in the store (EMBEDDEDMAP).
const classProperties = `[` +
	`{"name":"Timestamp","type":"DATETIME"},` +
	`{"name":"Level","type":"STRING"},` +
	`{"name":"MessageTemplate","type":"STRING"},` +
	`{"name":"RenderedMessage","type":"STRING"},` +
	`{"name":"Exception","type":"STRING"},` +
	`{"name":"Properties","type":"EMBEDDEDMAP"}` +
	`]`

// EnsureClass makes sure the record class exists in the database, creating it
// along with its declared properties when the lookup does not succeed. It
// reports whether the class was created. It authenticates like Send, but never
// changes the session and is not retried.
func (c *Client) EnsureClass(ctx context.Context, className string) (created bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	classURL := c.endpoint(classPath, c.database, className)

	res, err := c.do(ctx, http.MethodGet, classURL, nil, "")
	if err != nil {
		return false, fmt.Errorf("failed to look up class %s: %w", className, err)
	}
	if res.ok() {
		c.debug("class %s already exists", className)
		return false, nil
	}

	res, err = c.do(ctx, http.MethodPost, classURL, []byte{}, "")
	if err != nil {
		return false, fmt.Errorf("failed to create class %s: %w", className, err)
	}
	if !res.ok() {
		return false, fmt.Errorf("failed to create class %s: %w", className,
			&DeliveryError{StatusCode: res.status, Status: res.statusText, Body: res.body})
	}

	res, err = c.do(ctx, http.MethodPost, c.endpoint(propertyPath, c.database, className), []byte(classProperties), "")
	if err != nil {
		return true, fmt.Errorf("failed to declare properties of class %s: %w", className, err)
	}
	if !res.ok() {
		return true, fmt.Errorf("failed to declare properties of class %s: %w", className,
			&DeliveryError{StatusCode: res.status, Status: res.statusText, Body: res.body})
	}

	c.debug("created class %s", className)
	return true, nil
}
