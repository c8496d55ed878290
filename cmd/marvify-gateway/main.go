// ABOUTME: Entry point for marvify-gateway, the direct-message server
// ABOUTME: Subcommands serve, init, user add, token and health

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/marv1n-le/marvify/internal/config"
	"github.com/marv1n-le/marvify/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
                            _  __
  _ __ ___   __ _ _ ____   _(_)/ _|_   _
 | '_ ' _ \ / _' | '__\ \ / / | |_| | | |
 | | | | | | (_| | |   \ V /| |  _| |_| |
 |_| |_| |_|\__,_|_|    \_/ |_|_|  \__, |
                                   |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: MARVIFY_CONFIG env var > XDG_CONFIG_HOME/marvify/gateway.yaml > ~/.config/marvify/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MARVIFY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "marvify", "gateway.yaml")
}

// getDataPath returns the path to the marvify data directory.
// Priority: XDG_DATA_HOME/marvify > ~/.local/share/marvify
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "marvify")
}

func usage() {
	fmt.Println("Usage: marvify-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                Start the gateway server")
	fmt.Println("  init                                 Create a new config file interactively")
	fmt.Println("  user add --name NAME --username USER Create a user and print a token")
	fmt.Println("  token --user ID [--ttl DURATION]     Issue a token for an existing user")
	fmt.Println("  health                               Check gateway health")
}

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "user":
		err = runUser(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Media:     %s\n", cfg.Media.Dir)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting marvify-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"heartbeat", cfg.Stream.HeartbeatInterval,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	base := fmt.Sprintf("http://%s", cfg.Server.HTTPAddr)
	if cfg.Tailscale.Enabled {
		base = "http://" + cfg.Tailscale.Hostname
	}

	for _, path := range []string{"/health", "/health/ready"} {
		body, err := getText(ctx, base+path)
		if err != nil {
			return err
		}
		fmt.Printf("%-14s %s\n", path, body)
	}
	return nil
}

func getText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}

// parseFlags parses "--name value" and "--name=value" pairs for the allowed names.
func parseFlags(args []string, allowed ...string) (map[string]string, error) {
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}

	values := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known[name] {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		values[name] = value
	}
	return values, nil
}
