package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/hookrelay/hookrelay/internal/queue"
)

// WebhookParameters is the shape this package expects in a job's opaque
// Parameters document. Fields are optional; zero values fall back to a
// plain POST of the raw parameters document with no extra headers.
type WebhookParameters struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// parseWebhookParameters decodes a job's Parameters document. An empty or
// absent document is treated as {method: POST} with the raw document (here,
// empty) as the body.
func parseWebhookParameters(raw []byte) (WebhookParameters, error) {
	var p WebhookParameters
	if len(raw) == 0 {
		p.Method = http.MethodPost
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return WebhookParameters{}, err
	}
	if p.Method == "" {
		p.Method = http.MethodPost
	}
	if !allowedMethods[p.Method] {
		return WebhookParameters{}, &queue.ParseHTTPMethodError{Value: p.Method}
	}
	if p.Body == nil {
		p.Body = raw
	}
	return p, nil
}
