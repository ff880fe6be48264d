package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the tool package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

var (
	// ErrInvalidCredentials indicates the remote service rejected the configured credentials
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidParams indicates the invocation parameters are malformed
	ErrInvalidParams = errors.New("invalid parameters")
)

// RateLimitError is returned when the remote API throttles us
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

// Message is a single piece of tool output. Text messages carry rendered
// markdown; variable messages carry a named structured value.
type Message struct {
	Type  string      `json:"type"` // "text" or "variable"
	Text  string      `json:"text,omitempty"`
	Name  string      `json:"name,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

func textMessage(text string) Message {
	return Message{Type: "text", Text: text}
}

func variableMessage(name string, value interface{}) Message {
	return Message{Type: "variable", Name: name, Value: value}
}

// Params holds the invocation parameters of a tool call
type Params map[string]interface{}

// GetString returns the string parameter for key, or def when unset
func (p Params) GetString(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// GetInt returns the integer parameter for key, or def when unset. JSON
// numbers arrive as float64.
func (p Params) GetInt(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// GetBool returns the boolean parameter for key, or def when unset
func (p Params) GetBool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Tool is a single invokable operation of a tool provider
type Tool interface {
	Name() string
	Invoke(ctx context.Context, params Params) ([]Message, error)
}

// Provider is a credentialed tool service
type Provider interface {
	Name() string
	Validate(ctx context.Context) error
	Tools() []Tool
}
