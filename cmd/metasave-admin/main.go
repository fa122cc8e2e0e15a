// ABOUTME: Admin CLI for the metasave SaveData service
// ABOUTME: Manages game authorities and inspects records, events and the audit log over gRPC

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"

	"github.com/2389/metasave/internal/client"
	"github.com/2389/metasave/internal/record"
)

const banner = `
                _                                      _           _
 _ __ ___   ___| |_ __ _ ___  __ ___   _____      __ _| |_ __ ___ (_)_ __
| '_ ' _ \ / _ \ __/ _' / __|/ _' \ \ / / _ \___ / _' | | '_ ' _ \| | '_ \
| | | | | |  __/ || (_| \__ \ (_| |\ V /  __/___| (_| | | | | | | | | | | |
|_| |_| |_|\___|\__\__,_|___/\__,_| \_/ \___|    \__,_|_|_| |_| |_|_|_| |_|
`

// callTimeout bounds every command.
const callTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	if cmd == "fingerprint" {
		if err := runFingerprint(os.Args[2:], os.Stdout); err != nil {
			color.Red("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	grpcAddr := os.Getenv("METASAVE_GRPC")
	if grpcAddr == "" {
		if host := os.Getenv("METASAVE_HOST"); host != "" {
			grpcAddr = host + ":50061"
		} else {
			grpcAddr = "localhost:50061"
		}
	}

	opts, err := credentialOptions()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	c, err := client.Dial(grpcAddr, opts...)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	a := &admin{client: c, out: os.Stdout, self: record.AccountID(os.Getenv("METASAVE_ACCOUNT"))}
	if err := a.run(ctx, cmd, os.Args[2:]); err != nil {
		if client.IsUnauthenticated(err) {
			color.Red("Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Set METASAVE_TOKEN, METASAVE_SSH_KEY, or run 'metasave bootstrap'.")
			os.Exit(1)
		}
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: metasave-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  register <game>                         Register a game you will own")
	fmt.Println("  grant <game> <account> [access]         Grant external (default) or internal_external")
	fmt.Println("  revoke <game> <account>                 Revoke an account's permission")
	fmt.Println("  perms [account]                         List an account's permissions")
	fmt.Println("  world get <game>                        Show a world record")
	fmt.Println("  world set <game> <key> <value>          Insert or replace a world entry")
	fmt.Println("  world rm <game> <key>                   Remove a world entry")
	fmt.Println("  world add <game> <key> <delta>          Add to a numeric world entry")
	fmt.Println("  user get <game> <user>                  Show a user record")
	fmt.Println("  user set <game> <user> <key> <value>    Insert or replace a user entry")
	fmt.Println("  user rm <game> <user> <key>             Remove a user entry")
	fmt.Println("  events <game> [--limit N]               Show a game's update ledger")
	fmt.Println("  audit [--actor A] [--action X] [--game G] [--limit N]")
	fmt.Println("                                          Show the audit log")
	fmt.Println("  fingerprint [key-file]                  Print the account id of an SSH key (local)")
	fmt.Println()
	yellow.Println("Record flags:")
	fmt.Println("  --route external|internal               Route to address (default external)")
	fmt.Println("  --int                                   Store the value as a little-endian int32")
	fmt.Println("  --base64                                Value is base64 encoded")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  METASAVE_HOST        Server hostname (derives gRPC :50061)")
	fmt.Println("  METASAVE_GRPC        Server gRPC address (default: localhost:50061)")
	fmt.Println("  METASAVE_TOKEN       JWT token (default: ~/.config/metasave/token)")
	fmt.Println("  METASAVE_SSH_KEY     SSH private key to sign calls with instead of a token")
	fmt.Println("  METASAVE_ACCOUNT     Caller account for insecure servers; default for perms")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  metasave-admin register 7")
	fmt.Println("  metasave-admin grant 7 bob internal_external")
	fmt.Println("  metasave-admin grant 7 $(metasave-admin fingerprint ~/.ssh/id_ed25519.pub)")
	fmt.Println("  metasave-admin world add 7 Kills 1")
	fmt.Println("  metasave-admin world get 7 --route internal")
	fmt.Println()
}

// credentialOptions picks the caller credential: an SSH key when
// METASAVE_SSH_KEY is set, else a token, else a bare account name.
func credentialOptions() ([]client.Option, error) {
	if keyPath := os.Getenv("METASAVE_SSH_KEY"); keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key %s: %w", keyPath, err)
		}
		return []client.Option{client.WithSSHSigner(signer)}, nil
	}
	if token := getToken(); token != "" {
		return []client.Option{client.WithToken(token)}, nil
	}
	if account := os.Getenv("METASAVE_ACCOUNT"); account != "" {
		return []client.Option{client.WithAccount(record.AccountID(account))}, nil
	}
	return nil, nil
}

func getToken() string {
	if token := os.Getenv("METASAVE_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "metasave", "token"))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// admin runs commands against one client.
type admin struct {
	client *client.Client
	out    io.Writer
	self   record.AccountID
}

func (a *admin) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "register":
		return a.cmdRegister(ctx, args)
	case "grant":
		return a.cmdGrant(ctx, args)
	case "revoke":
		return a.cmdRevoke(ctx, args)
	case "perms":
		return a.cmdPerms(ctx, args)
	case "world":
		return a.cmdWorld(ctx, args)
	case "user":
		return a.cmdUser(ctx, args)
	case "events":
		return a.cmdEvents(ctx, args)
	case "audit":
		return a.cmdAudit(ctx, args)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}
