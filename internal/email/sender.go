// Package email delivers transactional mail through an HTTP email API.
// Delivery is best-effort everywhere it is used; a failed email never rolls
// back the operation that triggered it.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/platform"
)

// ErrNotConfigured is returned when no email API credentials are present.
var ErrNotConfigured = errors.New("email delivery is not configured")

// Sender posts messages to the email provider's HTTP API.
type Sender struct {
	apiURL     string
	apiKey     string
	from       string
	appOrigin  string
	httpClient *http.Client
}

// NewSender creates a sender. An empty apiURL yields a sender that reports
// ErrNotConfigured on every send, so callers don't need their own guard.
func NewSender(apiURL, apiKey, from, appOrigin string, timeout time.Duration) *Sender {
	return &Sender{
		apiURL:    apiURL,
		apiKey:    apiKey,
		from:      from,
		appOrigin: appOrigin,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send delivers one message.
func (s *Sender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if s.apiURL == "" || s.apiKey == "" {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(message{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		HTML:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Debug().
			Int("status", resp.StatusCode).
			Str("provider_response", string(body)).
			Msg("Email provider error")
		return fmt.Errorf("email provider returned status %d", resp.StatusCode)
	}

	return nil
}

// SendInvitation composes and delivers an organization invitation email. The
// accept link carries the invitation token; the token never appears anywhere
// else client-facing.
func (s *Sender) SendInvitation(ctx context.Context, data *platform.InviteEmail) error {
	acceptURL := s.appOrigin + "/invite/accept?token=" + data.Token

	inviter := data.InviterName
	if inviter == "" {
		inviter = "A member"
	}

	var note string
	if data.Message != "" {
		note = fmt.Sprintf(`<blockquote style="border-left:3px solid #ccc;padding-left:12px;color:#555;">%s</blockquote>`,
			html.EscapeString(data.Message))
	}

	body := fmt.Sprintf(`
		<h2>You've been invited to %s</h2>
		<p>%s invited you to join <strong>%s</strong> as a <strong>%s</strong>.</p>
		%s
		<p><a href="%s" style="display:inline-block;padding:10px 20px;background:#2563eb;color:#fff;border-radius:6px;text-decoration:none;">Accept invitation</a></p>
		<p style="color:#888;font-size:13px;">This invitation expires on %s. If you weren't expecting it, you can ignore this email.</p>`,
		html.EscapeString(data.OrgName),
		html.EscapeString(inviter),
		html.EscapeString(data.OrgName),
		html.EscapeString(data.Role),
		note,
		acceptURL,
		data.ExpiresAt.Format("January 2, 2006"),
	)

	subject := fmt.Sprintf("Invitation to join %s", data.OrgName)
	return s.Send(ctx, data.Email, subject, body)
}
