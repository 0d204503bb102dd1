package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Mindburn-Labs/buildmarket/pkg/auth"
	"github.com/Mindburn-Labs/buildmarket/pkg/client"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServe

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(args[2:], stdout, stderr)
	case "genesis":
		return runGenesisCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "buildmarket %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return startServer(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorCyan  = "\033[36m"
	ColorBlue  = "\033[34m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sbuildmarket %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	_, _ = fmt.Fprintln(w, "Construction jobs, escrow and arbitration.")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	_, _ = fmt.Fprintln(w, "  buildmarket <command> [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "serve", "Run the marketplace API (default; --config file.yaml)")
	printCommand(w, "health", "Check server health (--url)")

	printSection(w, "KEYS")
	printCommand(w, "genesis", "Mint the admin capability into the data dir (--data)")
	printCommand(w, "token", "Sign a caller bearer token (--address, --ttl, --data)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func dataDirDefault() string {
	if d := os.Getenv("DATA_DIR"); d != "" {
		return d
	}
	return "data"
}

func runGenesisCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("genesis", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dataDir := cmd.String("data", dataDirDefault(), "Data directory")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	authority, err := loadAuthority(*dataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "genesis: %v\n", err)
		return 1
	}
	path, created, err := ensureAdminToken(authority, *dataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "genesis: %v\n", err)
		return 1
	}
	if !created {
		_, _ = fmt.Fprintf(stderr, "genesis: admin capability already exists at %s\n", path)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "system %s\nadmin capability written to %s\n", authority.SystemID(), path)
	return 0
}

func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		address string
		ttl     time.Duration
		dataDir string
	)
	cmd.StringVar(&address, "address", "", "Caller address to sign for (REQUIRED)")
	cmd.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.StringVar(&dataDir, "data", dataDirDefault(), "Data directory")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if identity.Address(address).IsZero() {
		_, _ = fmt.Fprintln(stderr, "token: --address is required")
		return 2
	}

	ks, err := loadKeySet(dataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	tok, err := auth.IssueToken(context.Background(), ks, identity.Address(address), ttl, time.Now())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	url := cmd.String("url", "http://localhost:8080", "Server base URL")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	h, err := client.New(*url, client.WithTimeout(5*time.Second)).Health(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	if h.Status != "ok" {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %s (custody %s)\n", h.Status, h.Custody)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
