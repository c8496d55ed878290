// ABOUTME: Interactive config file generator for marvify-gateway
// ABOUTME: Prompts for addresses, storage, media and tailscale, and generates a random JWT secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("marvify-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	driver := prompt(reader, "Driver (sqlite/sqlite3/mongo)", "sqlite")
	var dbPath, mongoURI string
	if driver == "mongo" {
		mongoURI = prompt(reader, "MongoDB URI", "mongodb://localhost:27017")
	} else {
		dbPath = prompt(reader, "SQLite database path", filepath.Join(defaultDataPath, "marvify.db"))
	}

	fmt.Println("\n--- Media Configuration ---")
	mediaDir := prompt(reader, "Upload directory", filepath.Join(defaultDataPath, "media"))

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "marvify")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secret, err := randomSecret()
	if err != nil {
		return err
	}

	var cfg strings.Builder
	cfg.WriteString("# marvify-gateway configuration\n")
	cfg.WriteString("# Generated by marvify-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	if mongoURI != "" {
		fmt.Fprintf(&cfg, "  mongo_uri: %q\n", mongoURI)
	} else {
		fmt.Fprintf(&cfg, "  path: %q\n", dbPath)
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", secret)
	cfg.WriteString("  token_ttl: \"720h\"\n\n")

	cfg.WriteString("stream:\n")
	cfg.WriteString("  heartbeat_interval: \"30s\"\n\n")

	cfg.WriteString("media:\n")
	fmt.Fprintf(&cfg, "  dir: %q\n", mediaDir)
	cfg.WriteString("  base_url: \"/media\"\n\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  marvify-gateway user add --name \"Your Name\" --username you")
	fmt.Println("  marvify-gateway serve")

	return nil
}

// randomSecret returns 48 random bytes, base64 encoded.
func randomSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
