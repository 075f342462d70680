// Package notify sends run-completion messages to an operator through a
// webhook relay.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts notification messages to an HTTP endpoint, e.g. an SMS
// relay, as {"message": ..., "to": ...}.
type Webhook struct {
	Endpoint string
	Client   *http.Client
}

// NewWebhook returns a Webhook with a sane client timeout.
func NewWebhook(endpoint string) *Webhook {
	return &Webhook{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type payload struct {
	Message string `json:"message"`
	To      string `json:"to"`
}

// Notify sends message to destination.
func (w *Webhook) Notify(message, destination string) error {
	body, err := json.Marshal(payload{Message: message, To: destination})
	if err != nil {
		return err
	}
	resp, err := w.Client.Post(w.Endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification relay returned %s", resp.Status)
	}
	return nil
}
