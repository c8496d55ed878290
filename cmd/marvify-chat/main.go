// ABOUTME: Entry point for marvify-chat, a terminal client for marvify direct messages
// ABOUTME: Root command carries server and token flags shared by chat, history and recent

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/marv1n-le/marvify/internal/client"
)

// Version is set at build time.
var version = "dev"

// Global flags
var (
	serverURL string
	token     string
	selfID    string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "marvify-chat",
	Short: "Terminal client for marvify direct messages",
	Long: `marvify-chat talks to a marvify gateway.

Run 'marvify-chat chat <user-id>' to open a live conversation, or
'marvify-chat history <user-id>' and 'marvify-chat recent' to read messages.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("MARVIFY_SERVER", "http://localhost:8080"), "Gateway base URL (env MARVIFY_SERVER)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("MARVIFY_TOKEN"), "Access token (env MARVIFY_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&selfID, "user", "", "Your user id (default: taken from the token)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log stream activity to stderr")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(recentCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// session resolves the flags into an API client and the signed-in user id.
func session() (*client.Client, string, error) {
	if token == "" {
		return nil, "", errors.New("a token is required: pass --token or set MARVIFY_TOKEN")
	}

	id := selfID
	if id == "" {
		var err error
		id, err = subjectFromToken(token)
		if err != nil {
			return nil, "", fmt.Errorf("reading user id from token (pass --user to override): %w", err)
		}
	}

	static := token
	tokens := func(context.Context) (string, error) { return static, nil }
	return client.NewClient(serverURL, tokens, nil), id, nil
}

// subjectFromToken returns the "sub" claim without verifying the signature.
// The gateway verifies; the client only needs to know who it is.
func subjectFromToken(raw string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
