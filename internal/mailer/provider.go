package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pantheonhq/pantheon/internal/notify"
)

// Provider delivers one email to the upstream mail API.
type Provider interface {
	Send(ctx context.Context, msg notify.Message) error
}

// HTTPProviderConfig configures the HTTP mail provider.
type HTTPProviderConfig struct {
	BaseURL   string
	APIKey    string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// HTTPProvider posts messages to a SendGrid-compatible send endpoint.
type HTTPProvider struct {
	config HTTPProviderConfig
	http   *http.Client
}

// NewHTTPProvider creates a provider from the given config.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &HTTPProvider{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendRequest struct {
	Personalizations []struct {
		To []address `json:"to"`
	} `json:"personalizations"`
	From    address `json:"from"`
	Subject string  `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

// Send posts the message to the provider's v3 mail send endpoint.
func (p *HTTPProvider) Send(ctx context.Context, msg notify.Message) error {
	payload := sendRequest{
		From:    address{Email: p.config.FromEmail, Name: p.config.FromName},
		Subject: msg.Subject,
	}
	payload.Personalizations = []struct {
		To []address `json:"to"`
	}{{To: []address{{Email: msg.To}}}}
	payload.Content = []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{{Type: "text/plain", Value: msg.Body}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call mail provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("mail provider returned %d: %s", resp.StatusCode, string(detail))
	}

	return nil
}
