package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// MinPasswordLength is the provider's minimum accepted password length.
	// Enforced here as well so weak passwords never leave the process.
	MinPasswordLength = 6

	defaultTimeout = 10 * time.Second
)

var (
	// ErrInvalidCredentials is returned for any failed password sign-in.
	// The provider does not distinguish bad password from unknown email.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrWeakPassword is returned when a password is shorter than MinPasswordLength
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmailTaken is returned when registration hits an existing email
	ErrEmailTaken = errors.New("email address already registered")

	// ErrUserNotFound is returned by admin operations on unknown users
	ErrUserNotFound = errors.New("user not found")
)

// User is the provider's view of a principal.
type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// Session is an authenticated provider session.
type Session struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	User        User   `json:"user"`
}

// Client talks to the external identity provider.
// Privileged endpoints authenticate with the service key; user endpoints
// authenticate with the session's access token.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewClient creates an identity client for the given provider base URL.
func NewClient(baseURL, serviceKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// providerError is the provider's error payload.
type providerError struct {
	Code        string `json:"error_code"`
	Message     string `json:"msg"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (e *providerError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Description != "":
		return e.Description
	default:
		return e.Error
	}
}

// PasswordGrant authenticates a principal with email and password.
func (c *Client) PasswordGrant(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}

	var session Session
	status, err := c.do(ctx, http.MethodPost, "/token?grant_type=password", c.serviceKey, body, &session)
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		return nil, ErrInvalidCredentials
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("identity provider returned status %d", status)
	}
	if session.AccessToken == "" || session.User.ID == uuid.Nil {
		return nil, fmt.Errorf("identity provider returned an incomplete session")
	}

	return &session, nil
}

// AdminCreateUser provisions a principal through the privileged admin API.
// The email is marked confirmed so the user can sign in immediately.
func (c *Client) AdminCreateUser(ctx context.Context, email, password string, metadata map[string]string) (*User, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	body := map[string]interface{}{
		"email":         email,
		"password":      password,
		"email_confirm": true,
	}
	if len(metadata) > 0 {
		body["user_metadata"] = metadata
	}

	var user User
	status, err := c.do(ctx, http.MethodPost, "/admin/users", c.serviceKey, body, &user)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return nil, ErrEmailTaken
	default:
		return nil, fmt.Errorf("identity provider returned status %d", status)
	}
	if user.ID == uuid.Nil {
		return nil, fmt.Errorf("identity provider returned no user id")
	}

	return &user, nil
}

// AdminDeleteUser removes a principal through the privileged admin API.
// Used as the compensating step when registration fails half-way.
func (c *Client) AdminDeleteUser(ctx context.Context, userID uuid.UUID) error {
	status, err := c.do(ctx, http.MethodDelete, "/admin/users/"+userID.String(), c.serviceKey, nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrUserNotFound
	default:
		return fmt.Errorf("identity provider returned status %d", status)
	}
}

// SendRecovery asks the provider to email a password-recovery link.
// Callers must not reveal to end users whether the email exists.
func (c *Client) SendRecovery(ctx context.Context, email string) error {
	status, err := c.do(ctx, http.MethodPost, "/recover", c.serviceKey, map[string]string{"email": email}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("identity provider returned status %d", status)
	}
	return nil
}

// SendMagicLink asks the provider to email a one-time sign-in link.
// Same anti-enumeration contract as SendRecovery.
func (c *Client) SendMagicLink(ctx context.Context, email string) error {
	status, err := c.do(ctx, http.MethodPost, "/magiclink", c.serviceKey, map[string]string{"email": email}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("identity provider returned status %d", status)
	}
	return nil
}

// UpdatePassword changes the password of an already-authenticated session.
func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	status, err := c.do(ctx, http.MethodPut, "/user", accessToken, map[string]string{"password": newPassword}, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return ErrInvalidCredentials
	case http.StatusUnprocessableEntity:
		return ErrWeakPassword
	default:
		return fmt.Errorf("identity provider returned status %d", status)
	}
}

// do performs a JSON request against the provider and decodes the response
// into out when the status is a success. It returns the status code so
// callers can map provider statuses to domain errors.
func (c *Client) do(ctx context.Context, method, path, bearer string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, fmt.Errorf("failed to decode provider response: %w", err)
			}
		}
		return resp.StatusCode, nil
	}

	// Non-2xx: log the provider's own error text at debug level; the caller
	// maps the status to a domain error and never echoes provider text.
	var perr providerError
	if err := json.NewDecoder(resp.Body).Decode(&perr); err == nil {
		log.Debug().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("provider_error", perr.text()).
			Msg("Identity provider error")
	}

	return resp.StatusCode, nil
}
