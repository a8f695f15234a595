package notification

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Defaults applied when the caller omits optional payload fields.
const (
	DefaultURL   = "/"
	DefaultIcon  = "/icons/icon-192.png"
	DefaultBadge = "/icons/badge-72.png"
)

// Notification is a logical notification as supplied by a caller.
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	URL   string         `json:"url,omitempty"`
	Icon  string         `json:"icon,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// WirePayload is the fixed shape every device consumes.
type WirePayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	URL   string         `json:"url"`
	Icon  string         `json:"icon"`
	Badge string         `json:"badge"`
	Data  map[string]any `json:"data"`
}

// ValidationError reports which payload fields are missing or malformed.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid notification payload: missing %s", strings.Join(e.Fields, ", "))
}

// Validate checks the caller-supplied fields. Title and body are mandatory.
func (n Notification) Validate() error {
	var missing []string
	if strings.TrimSpace(n.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(n.Body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// Build normalizes the notification into the wire shape, applying defaults.
func (n Notification) Build() WirePayload {
	p := WirePayload{
		Title: n.Title,
		Body:  n.Body,
		URL:   n.URL,
		Icon:  n.Icon,
		Badge: DefaultBadge,
		Data:  n.Data,
	}
	if p.URL == "" {
		p.URL = DefaultURL
	}
	if p.Icon == "" {
		p.Icon = DefaultIcon
	}
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	return p
}

// Marshal builds the wire payload and encodes it as JSON.
func (n Notification) Marshal() ([]byte, error) {
	return json.Marshal(n.Build())
}
