package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPasswordGrant(t *testing.T) {
	userID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/token", r.URL.Path)
		require.Equal(t, "password", r.URL.Query().Get("grant_type"))
		require.Equal(t, "service-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "reader@example.com", body["email"])

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-abc",
			"expires_in":   3600,
			"user":         map[string]string{"id": userID.String(), "email": "reader@example.com"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-key")
	session, err := c.PasswordGrant(context.Background(), "reader@example.com", "hunter22")
	require.NoError(t, err)
	require.Equal(t, "token-abc", session.AccessToken)
	require.Equal(t, userID, session.User.ID)
}

func TestPasswordGrant_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-key")
	_, err := c.PasswordGrant(context.Background(), "reader@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAdminCreateUser(t *testing.T) {
	userID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/users", r.URL.Path)
		require.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, true, body["email_confirm"])
		meta, ok := body["user_metadata"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "reader", meta["username"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": userID.String(), "email": "reader@example.com"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-key")
	user, err := c.AdminCreateUser(context.Background(), "reader@example.com", "hunter22", map[string]string{"username": "reader"})
	require.NoError(t, err)
	require.Equal(t, userID, user.ID)
}

func TestAdminCreateUser_EmailTaken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"msg": "User already registered"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-key")
	_, err := c.AdminCreateUser(context.Background(), "reader@example.com", "hunter22", nil)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestAdminCreateUser_WeakPasswordLocally(t *testing.T) {
	// Too-short passwords never reach the provider.
	c := NewClient("http://127.0.0.1:0", "service-key")
	_, err := c.AdminCreateUser(context.Background(), "reader@example.com", "short", nil)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestAdminDeleteUser_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-key")
	err := c.AdminDeleteUser(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdatePassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/user", r.URL.Path)
		require.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-key")
	require.NoError(t, c.UpdatePassword(context.Background(), "user-token", "new-password"))
}

func TestUpdatePassword_ExpiredSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-key")
	err := c.UpdatePassword(context.Background(), "stale-token", "new-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSendRecovery_NeverRevealsExistence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/recover", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "service-key")
	require.NoError(t, c.SendRecovery(context.Background(), "whoever@example.com"))
}
