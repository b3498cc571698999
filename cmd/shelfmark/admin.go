package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfmark/shelfmark/internal/identity"
	"github.com/shelfmark/shelfmark/internal/platform"
	"github.com/shelfmark/shelfmark/internal/validation"
)

func runAdmin(args []string) int {
	if len(args) == 0 {
		printAdminUsage()
		return 2
	}

	switch args[0] {
	case "create-user":
		return runCreateUser(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown admin command: %s\n", args[0])
		printAdminUsage()
		return 2
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  shelfmark admin create-user --email user@example.com --username <name> [--password <pw>] [--full-name <name>]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Notes:")
	fmt.Fprintln(os.Stderr, "  - If --password is omitted, a random password is generated and printed.")
	fmt.Fprintln(os.Stderr, "  - Reads SM_IDENTITY_URL, SM_IDENTITY_SERVICE_KEY and SM_PLATFORM_DSN from the environment.")
}

// runCreateUser provisions a principal directly against the identity provider
// and links the profile, mirroring what registration does over HTTP. Used to
// bootstrap the first account of a fresh deployment.
func runCreateUser(args []string) int {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var email string
	var username string
	var fullName string
	var password string

	fs.StringVar(&email, "email", "", "User email")
	fs.StringVar(&username, "username", "", "Profile username")
	fs.StringVar(&fullName, "full-name", "", "Profile full name")
	fs.StringVar(&password, "password", "", "Password (if empty, generates one)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	email, err := validation.NormalizeEmail(email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "--email: %v\n", err)
		return 2
	}
	if err := validation.ValidateUsername(username); err != nil {
		fmt.Fprintf(os.Stderr, "--username: %v\n", err)
		return 2
	}

	identityURL := strings.TrimRight(strings.TrimSpace(os.Getenv("SM_IDENTITY_URL")), "/")
	serviceKey := os.Getenv("SM_IDENTITY_SERVICE_KEY")
	dsn := strings.TrimSpace(os.Getenv("SM_PLATFORM_DSN"))
	if identityURL == "" || serviceKey == "" || dsn == "" {
		fmt.Fprintln(os.Stderr, "SM_IDENTITY_URL, SM_IDENTITY_SERVICE_KEY and SM_PLATFORM_DSN must be set")
		return 2
	}

	generated := false
	if password == "" {
		pw, err := generatePassword(24)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate password: %v\n", err)
			return 1
		}
		password = pw
		generated = true
	}
	if len(password) < identity.MinPasswordLength {
		fmt.Fprintf(os.Stderr, "Password must be at least %d characters\n", identity.MinPasswordLength)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	idp := identity.NewClient(identityURL, serviceKey)
	user, err := idp.AdminCreateUser(ctx, email, password, map[string]string{
		"username":  username,
		"full_name": fullName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create user: %v\n", err)
		return 1
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to data platform: %v\n", err)
		return 1
	}
	defer pool.Close()

	store := platform.NewClient(pool)
	if err := store.UpsertProfile(ctx, platform.Profile{
		UserID:   user.ID,
		Email:    email,
		Username: strings.TrimSpace(username),
		FullName: strings.TrimSpace(fullName),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "User created but profile linking failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stdout, "User created: %s\n", user.ID)
	if generated {
		fmt.Fprintln(os.Stdout, password)
	}

	return 0
}

func generatePassword(bytesLen int) (string, error) {
	if bytesLen < 8 {
		bytesLen = 8
	}

	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, printable, without padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
