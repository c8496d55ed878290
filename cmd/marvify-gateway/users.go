// ABOUTME: User provisioning and token issuing subcommands
// ABOUTME: Writes straight to the configured store; the server does not need to be running

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/marv1n-le/marvify/internal/auth"
	"github.com/marv1n-le/marvify/internal/config"
	"github.com/marv1n-le/marvify/internal/gateway"
	"github.com/marv1n-le/marvify/internal/store"
)

const maxNameLength = 100

var errUserUsage = errors.New("usage: marvify-gateway user add --name NAME --username USER [--id ID]")

// openStoreAndVerifier loads config and returns the store, a token signer
// and the default token lifetime.
func openStoreAndVerifier(ctx context.Context) (store.Store, *auth.JWTVerifier, time.Duration, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, 0, fmt.Errorf("loading config: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("creating token signer: %w", err)
	}

	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}, os.Stderr)
	st, err := gateway.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, 0, err
	}
	return st, verifier, cfg.Auth.TokenTTL, nil
}

func runUser(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "add" {
		return errUserUsage
	}

	flags, err := parseFlags(args[1:], "name", "username", "id")
	if err != nil {
		return err
	}

	st, verifier, ttl, err := openStoreAndVerifier(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	user, token, err := addUser(ctx, st, verifier, flags["id"], flags["name"], flags["username"], ttl)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Println("\n  ✓ User created")
	fmt.Println()
	fmt.Printf("  ID:        %s\n", user.ID)
	fmt.Printf("  Name:      %s\n", user.FullName)
	fmt.Printf("  Username:  %s\n", user.Username)
	fmt.Printf("  Token:     %s\n", token)
	fmt.Println()
	return nil
}

// addUser validates and stores a new user, returning it with a fresh token.
func addUser(ctx context.Context, st store.Store, signer *auth.JWTVerifier, id, name, username string, ttl time.Duration) (*store.User, string, error) {
	name = strings.TrimSpace(name)
	username = strings.TrimSpace(username)
	if name == "" || username == "" {
		return nil, "", errUserUsage
	}
	if len(name) > maxNameLength {
		return nil, "", fmt.Errorf("name exceeds maximum length of %d characters", maxNameLength)
	}
	if id == "" {
		id = uuid.NewString()
	}

	user := &store.User{ID: id, FullName: name, Username: username}
	if err := st.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return nil, "", fmt.Errorf("user %s already exists", id)
		}
		return nil, "", fmt.Errorf("creating user: %w", err)
	}

	token, err := signer.Generate(user.ID, ttl)
	if err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	slog.Debug("user created", "id", user.ID, "username", user.Username)
	return user, token, nil
}

func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "user", "ttl")
	if err != nil {
		return err
	}
	if flags["user"] == "" {
		return errors.New("usage: marvify-gateway token --user ID [--ttl DURATION]")
	}

	st, verifier, ttl, err := openStoreAndVerifier(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if raw := flags["ttl"]; raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
	}

	token, err := issueToken(ctx, st, verifier, flags["user"], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// issueToken signs a token for an existing user.
func issueToken(ctx context.Context, st store.Store, signer *auth.JWTVerifier, userID string, ttl time.Duration) (string, error) {
	if _, err := st.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("user %s not found", userID)
		}
		return "", fmt.Errorf("looking up user: %w", err)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token lifetime must be positive, got %s", ttl)
	}
	return signer.Generate(userID, ttl)
}
