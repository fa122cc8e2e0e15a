// ABOUTME: Entry point for the metasave save-data server
// ABOUTME: Serves the store and handles first-time setup, tokens and maintenance

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/config"
	"github.com/2389/metasave/internal/gateway"
	"github.com/2389/metasave/internal/genesis"
	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/savedata"
	"github.com/2389/metasave/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// defaultTokenTTL is the lifetime of tokens minted by bootstrap and token.
const defaultTokenTTL = 30 * 24 * time.Hour

const banner = `
                _
 _ __ ___   ___| |_ __ _ ___  __ ___   _____
| '_ ' _ \ / _ \ __/ _' / __|/ _' \ \ / / _ \
| | | | | |  __/ || (_| \__ \ (_| |\ V /  __/
|_| |_| |_|\___|\__\__,_|___/\__,_| \_/ \___|
`

func usage() {
	fmt.Println("Usage: metasave <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the save-data server")
	fmt.Println("  init                         Create a new config file interactively")
	fmt.Println("  bootstrap --account NAME     Create config and a token for NAME")
	fmt.Println("            [--genesis]        ...seeding the default games under NAME")
	fmt.Println("  token --account NAME [--ttl] Mint a token for NAME")
	fmt.Println("  health                       Check server readiness")
	fmt.Println("  reindex                      Rebuild the game index (server stopped)")
	fmt.Println("  version                      Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "bootstrap":
		err = runBootstrap(args)
	case "token":
		err = runToken(args)
	case "health":
		err = runHealth(ctx)
	case "reindex":
		err = runReindex(ctx)
	case "version":
		fmt.Println(version)
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
	configPath := config.Path()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			gray.Print(" (https)")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.Insecure {
		yellow.Println("    ! insecure auth: caller identity is taken from a header")
	}

	fmt.Println()

	logger.Info("starting metasave",
		"version", version,
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runReindex rebuilds the game index from the stored permissions. The
// database is opened directly, so the server must not be running.
func runReindex(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	s, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	changed, err := savedata.New(s, nil, nil, logger).Reindex(ctx)
	if err != nil {
		return fmt.Errorf("reindexing: %w", err)
	}

	fmt.Printf("reindexed: %d game(s) corrected\n", changed)
	return nil
}

// bootstrapOptions holds the parsed bootstrap and token flags.
type bootstrapOptions struct {
	account record.AccountID
	genesis bool
	ttl     time.Duration
}

// parseAccountFlags reads --account, --genesis and --ttl. Both "--flag value"
// and "--flag=value" are accepted.
func parseAccountFlags(args []string, allowGenesis bool) (bootstrapOptions, error) {
	opts := bootstrapOptions{ttl: defaultTokenTTL}
	var ttl string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--account" || arg == "-a":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--account requires a value")
			}
			opts.account = record.AccountID(args[i+1])
			i++
		case strings.HasPrefix(arg, "--account="):
			opts.account = record.AccountID(strings.TrimPrefix(arg, "--account="))
		case arg == "--ttl":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--ttl requires a value")
			}
			ttl = args[i+1]
			i++
		case strings.HasPrefix(arg, "--ttl="):
			ttl = strings.TrimPrefix(arg, "--ttl=")
		case arg == "--genesis" && allowGenesis:
			opts.genesis = true
		case strings.HasPrefix(arg, "-"):
			return opts, fmt.Errorf("unknown flag: %s", arg)
		default:
			return opts, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	opts.account = record.AccountID(strings.TrimSpace(string(opts.account)))
	if opts.account == "" {
		return opts, fmt.Errorf("--account flag is required")
	}
	if len(opts.account) > 256 {
		return opts, fmt.Errorf("account exceeds maximum length of 256 characters")
	}
	if ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return opts, fmt.Errorf("parsing --ttl: %w", err)
		}
		if d <= 0 {
			return opts, fmt.Errorf("--ttl must be positive")
		}
		opts.ttl = d
	}
	return opts, nil
}

// runBootstrap performs first-time setup:
// 1. Creates the config file with a random JWT secret (if it does not exist)
// 2. Optionally seeds the default games with the account as their authority
// 3. Writes a JWT token for the account next to the config
func runBootstrap(args []string) error {
	opts, err := parseAccountFlags(args, true)
	if err != nil {
		return err
	}

	configPath := config.Path()
	dataPath := config.DataPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secret, err := randomSecret()
		if err != nil {
			return err
		}

		cfg = config.Default(filepath.Join(dataPath, "metasave.db"))
		cfg.Server.GRPCAddr = "localhost:50061"
		cfg.Server.HTTPAddr = "localhost:8090"
		cfg.Auth.JWTSecret = secret
		if opts.genesis {
			cfg.Genesis = genesis.Default(opts.account, opts.account)
		}

		if err := writeConfig(configPath, cfg); err != nil {
			return err
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
		}
		if opts.genesis {
			return fmt.Errorf("config %s already exists; add genesis games to it by hand", configPath)
		}
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	tokenPath, expiresAt, err := writeToken(configPath, cfg.Auth.JWTSecret, opts)
	if err != nil {
		return err
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Account")
	cyan.Println("  -------")
	fmt.Printf("  ID:      %s\n", opts.account)
	fmt.Printf("  Token:   %s (expires %s)\n", tokenPath, expiresAt.Format("Jan 02, 2006"))
	for _, g := range cfg.Genesis.Games {
		fmt.Printf("  Game:    %s (%s)\n", g.Name, g.ID)
	}
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    metasave serve         # start the server")
	fmt.Println("    metasave-admin perms   # list your permissions")
	fmt.Println()

	return nil
}

// runToken mints a token for an account using the configured secret.
func runToken(args []string) error {
	opts, err := parseAccountFlags(args, false)
	if err != nil {
		return err
	}

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s", configPath)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(opts.account, opts.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func writeConfig(path string, cfg *config.Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	header := "# metasave configuration\n# Generated by metasave\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// writeToken saves a token for CLI tools to read from the config directory.
func writeToken(configPath, secret string, opts bootstrapOptions) (string, time.Time, error) {
	token, err := auth.NewJWTVerifier([]byte(secret)).Generate(opts.account, opts.ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating token: %w", err)
	}
	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return "", time.Time{}, fmt.Errorf("writing token file: %w", err)
	}
	return tokenPath, time.Now().Add(opts.ttl).UTC(), nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("metasave configuration setup")
	fmt.Println("============================")
	fmt.Println()

	defaultDBPath := filepath.Join(config.DataPath(), "metasave.db")

	outputFile := prompt(reader, "Config file path", config.Path())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	grpcAddr := prompt(reader, "gRPC address", "localhost:50061")
	httpAddr := prompt(reader, "HTTP address", "localhost:8090")

	fmt.Println("\n--- Database Configuration ---")
	driver := prompt(reader, "Driver (sqlite/sqlite3/leveldb/memory)", store.DriverSQLite)
	dbPath := prompt(reader, "Database path", defaultDBPath)

	fmt.Println("\n--- Authentication ---")
	var secret string
	if yes(prompt(reader, "Generate a JWT secret?", "yes")) {
		var err error
		if secret, err = randomSecret(); err != nil {
			return err
		}
	}
	sshAuth := yes(prompt(reader, "Accept SSH key signatures?", "yes"))

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))

	cfg := config.Default(dbPath)
	cfg.Server.GRPCAddr = grpcAddr
	cfg.Server.HTTPAddr = httpAddr
	cfg.Database.Driver = driver
	cfg.Auth.JWTSecret = secret
	cfg.Auth.SSHAuth = sshAuth
	if tailscaleEnabled {
		cfg.Tailscale.Enabled = true
		cfg.Tailscale.Hostname = prompt(reader, "Tailscale hostname", "metasave")
		cfg.Tailscale.AuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		cfg.Tailscale.Ephemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		cfg.Tailscale.HTTPS = yes(prompt(reader, "Serve HTTPS on the tailnet?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", "info")
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", "text")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}
	if err := writeConfig(outputFile, cfg); err != nil {
		return err
	}

	if driver != store.DriverMemory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  metasave serve\n")

	return nil
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
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
