// ABOUTME: Admin CLI for the context-vault consent ledger and memory store
// ABOUTME: Manages access grants, audit logs, client tokens, and encryption keys

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/context-vault/internal/authz"
	"github.com/2389/context-vault/internal/config"
	"github.com/2389/context-vault/internal/consent"
	"github.com/2389/context-vault/internal/crypt"
	"github.com/2389/context-vault/internal/policy"
	"github.com/2389/context-vault/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _            _                          _ _
  ___ ___  _ __ | |_ _____  _| |_  __      ____ _ _   _| | |_
 / __/ _ \| '_ \| __/ _ \ \/ / __| \ \ /\ / / _' | | | | | __|
| (_| (_) | | | | ||  __/>  <| |_   \ V  V / (_| | |_| | | |_
 \___\___/|_| |_|\__\___/_/\_\\__|   \_/\_/ \__,_|\__,_|_|\__|
`

// getConfigPath returns the path to the vault config file.
// Priority: CONTEXT_VAULT_CONFIG env var > XDG_CONFIG_HOME/context-vault/config.yaml > ~/.config/context-vault/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CONTEXT_VAULT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "context-vault", "config.yaml")
}

// getDataPath returns the path to the vault data directory.
// Priority: XDG_DATA_HOME/context-vault > ~/.local/share/context-vault
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "context-vault")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = cmdInit()
	case "grant":
		err = cmdGrant(ctx, args)
	case "revoke":
		err = cmdRevoke(ctx, args)
	case "grants":
		err = cmdGrants(ctx, args)
	case "audit":
		err = cmdAudit(ctx, args)
	case "check":
		err = cmdCheck(ctx, args)
	case "token":
		err = cmdToken(args)
	case "rotate-key":
		err = cmdRotateKey(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: context-vault <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                                              Create a starter config file")
	fmt.Println("  grant --user U --client C --scopes S --domains D  Grant a client access [--expires 24h]")
	fmt.Println("  revoke --user U --client C --grant ID             Revoke an access grant")
	fmt.Println("  grants --user U                                   List active grants for a user")
	fmt.Println("  audit --user U [--limit N] [--offset N]           Show the consent audit trail")
	fmt.Println("  check --user U --client C --domain D --scope S    Check whether access is allowed")
	fmt.Println("  token --client C [--ttl 24h]                      Mint a client bearer token")
	fmt.Println("  rotate-key --user U                               Rotate a user's encryption key")
}

// setupVault loads config, opens the consent ledger, and wires the manager.
// The caller must Close() the returned store.
func setupVault() (*config.Config, *store.SQLiteStore, *consent.Manager, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(setupLogger(cfg.Logging))

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}

	rules, err := policy.NewRuleSet()
	if err != nil {
		s.Close()
		return nil, nil, nil, fmt.Errorf("compiling policies: %w", err)
	}

	return cfg, s, consent.NewManager(s, rules), nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func cmdInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "vault.db")

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	// Generate random JWT secret
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# context-vault configuration
# Generated by context-vault init

database:
  path: "%s"

mem0:
  base_url: "https://api.basic.tech/mem0"
  api_key: "${MEM0_API_KEY}"

auth:
  jwt_secret: "%s"

grants:
  default_ttl: "24h"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)
	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Data directory: %s\n", dataPath)
	fmt.Println()
	yellow.Println("  Set MEM0_API_KEY before using the memory store.")
	fmt.Println()

	return nil
}

func cmdGrant(ctx context.Context, args []string) error {
	var user, client, scopesRaw, domainsRaw, expiresRaw string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user", "-u":
			if i+1 < len(args) {
				user = args[i+1]
				i++
			}
		case "--client", "-c":
			if i+1 < len(args) {
				client = args[i+1]
				i++
			}
		case "--scopes", "-s":
			if i+1 < len(args) {
				scopesRaw = args[i+1]
				i++
			}
		case "--domains", "-d":
			if i+1 < len(args) {
				domainsRaw = args[i+1]
				i++
			}
		case "--expires", "-e":
			if i+1 < len(args) {
				expiresRaw = args[i+1]
				i++
			}
		}
	}

	if user == "" || client == "" || scopesRaw == "" || domainsRaw == "" {
		return fmt.Errorf("usage: grant --user <id> --client <id> --scopes <s1,s2> --domains <d1,d2> [--expires 24h]")
	}

	cfg, s, manager, err := setupVault()
	if err != nil {
		return err
	}
	defer s.Close()

	input := consent.GrantInput{
		UserID:   user,
		ClientID: client,
		Scopes:   splitCSV(scopesRaw),
		Domains:  splitCSV(domainsRaw),
	}

	ttl := cfg.Grants.DefaultTTL
	if expiresRaw != "" {
		d, err := time.ParseDuration(expiresRaw)
		if err != nil {
			return fmt.Errorf("invalid --expires value: %w", err)
		}
		ttl = d
	}
	if ttl > 0 {
		expiresAt := time.Now().UTC().Add(ttl)
		input.ExpiresAt = &expiresAt
	}

	grant, err := manager.GrantAccess(ctx, input)
	if err != nil {
		return fmt.Errorf("granting access: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Granted access: %s\n", grant.ID)
	fmt.Printf("  User:    %s\n", grant.UserID)
	fmt.Printf("  Client:  %s\n", grant.ClientID)
	fmt.Printf("  Scopes:  %s\n", strings.Join(grant.Scopes, ", "))
	fmt.Printf("  Domains: %s\n", strings.Join(grant.Domains, ", "))
	if grant.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", grant.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Printf("  Expires: never\n")
	}

	return nil
}

func cmdRevoke(ctx context.Context, args []string) error {
	var user, client, grantID string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user", "-u":
			if i+1 < len(args) {
				user = args[i+1]
				i++
			}
		case "--client", "-c":
			if i+1 < len(args) {
				client = args[i+1]
				i++
			}
		case "--grant", "-g":
			if i+1 < len(args) {
				grantID = args[i+1]
				i++
			}
		}
	}

	if user == "" || client == "" || grantID == "" {
		return fmt.Errorf("usage: revoke --user <id> --client <id> --grant <id>")
	}

	_, s, manager, err := setupVault()
	if err != nil {
		return err
	}
	defer s.Close()

	revoked, err := manager.RevokeAccess(ctx, grantID, user, client)
	if err != nil {
		return fmt.Errorf("revoking access: %w", err)
	}

	if !revoked {
		color.New(color.FgYellow).Printf("No active grant %s for user %s\n", grantID, user)
		return nil
	}

	color.New(color.FgGreen).Printf("✓ Revoked grant: %s\n", grantID)
	return nil
}

func cmdGrants(ctx context.Context, args []string) error {
	var user string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user", "-u":
			if i+1 < len(args) {
				user = args[i+1]
				i++
			}
		}
	}

	if user == "" {
		return fmt.Errorf("usage: grants --user <id>")
	}

	_, s, manager, err := setupVault()
	if err != nil {
		return err
	}
	defer s.Close()

	grants, err := manager.GetActiveGrants(ctx, user)
	if err != nil {
		return fmt.Errorf("listing grants: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  Active Grants for %s\n", user)
	cyan.Println("  -------------------------")

	if len(grants) == 0 {
		fmt.Println("  (no active grants)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tCLIENT\tSCOPES\tDOMAINS\tEXPIRES")
	fmt.Fprintln(w, "  --\t------\t------\t-------\t-------")

	for _, g := range grants {
		expires := "never"
		if g.ExpiresAt != nil {
			expires = g.ExpiresAt.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(g.ID, 12),
			truncate(g.ClientID, 20),
			truncate(strings.Join(g.Scopes, ","), 20),
			truncate(strings.Join(g.Domains, ","), 24),
			expires,
		)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdAudit(ctx context.Context, args []string) error {
	var user string
	limit := 50
	offset := 0

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user", "-u":
			if i+1 < len(args) {
				user = args[i+1]
				i++
			}
		case "--limit", "-l":
			if i+1 < len(args) {
				if _, err := fmt.Sscanf(args[i+1], "%d", &limit); err != nil {
					return fmt.Errorf("invalid --limit value: %s", args[i+1])
				}
				i++
			}
		case "--offset", "-o":
			if i+1 < len(args) {
				if _, err := fmt.Sscanf(args[i+1], "%d", &offset); err != nil {
					return fmt.Errorf("invalid --offset value: %s", args[i+1])
				}
				i++
			}
		}
	}

	if user == "" {
		return fmt.Errorf("usage: audit --user <id> [--limit N] [--offset N]")
	}

	_, s, manager, err := setupVault()
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := manager.GetAuditLogs(ctx, user, limit, offset)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  Audit Trail for %s\n", user)
	cyan.Println("  -------------------------")

	if len(entries) == 0 {
		fmt.Println("  (no audit entries)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTION\tCLIENT\tDETAILS")
	fmt.Fprintln(w, "  ----\t------\t------\t-------")

	for _, e := range entries {
		details := ""
		if len(e.Details) > 0 {
			if b, err := json.Marshal(e.Details); err == nil {
				details = truncate(string(b), 48)
			}
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			e.Timestamp.Format("Jan 02 15:04:05"),
			e.Action,
			truncate(e.ClientID, 20),
			details,
		)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdCheck(ctx context.Context, args []string) error {
	var user, client, domain, scope string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user", "-u":
			if i+1 < len(args) {
				user = args[i+1]
				i++
			}
		case "--client", "-c":
			if i+1 < len(args) {
				client = args[i+1]
				i++
			}
		case "--domain", "-d":
			if i+1 < len(args) {
				domain = args[i+1]
				i++
			}
		case "--scope", "-s":
			if i+1 < len(args) {
				scope = args[i+1]
				i++
			}
		}
	}

	if user == "" || client == "" || domain == "" || scope == "" {
		return fmt.Errorf("usage: check --user <id> --client <id> --domain <d> --scope <s>")
	}

	_, s, manager, err := setupVault()
	if err != nil {
		return err
	}
	defer s.Close()

	allowed, err := manager.CheckAccess(ctx, user, client, domain, scope)
	if err != nil {
		return fmt.Errorf("checking access: %w", err)
	}

	if allowed {
		color.New(color.FgGreen).Printf("✓ allowed: %s may %s %s/%s\n", client, scope, user, domain)
	} else {
		color.New(color.FgRed).Printf("✗ denied: %s may not %s %s/%s\n", client, scope, user, domain)
	}

	return nil
}

func cmdToken(args []string) error {
	var client string
	ttl := 24 * time.Hour

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--client", "-c":
			if i+1 < len(args) {
				client = args[i+1]
				i++
			}
		case "--ttl", "-t":
			if i+1 < len(args) {
				d, err := time.ParseDuration(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --ttl value: %w", err)
				}
				ttl = d
				i++
			}
		}
	}

	if client == "" {
		return fmt.Errorf("usage: token --client <id> [--ttl 24h]")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := authz.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(client, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	expiresAt := time.Now().Add(ttl).UTC()

	color.New(color.FgGreen).Printf("✓ Token for %s (expires %s)\n", client, expiresAt.Format("Jan 02, 2006 15:04"))
	fmt.Println(token)

	return nil
}

func cmdRotateKey(args []string) error {
	var user string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user", "-u":
			if i+1 < len(args) {
				user = args[i+1]
				i++
			}
		}
	}

	if user == "" {
		return fmt.Errorf("usage: rotate-key --user <id>")
	}

	vault := crypt.NewMemoryKeyVault()
	if _, err := vault.Rotate(user); err != nil {
		return fmt.Errorf("rotating key: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Printf("✓ Rotated encryption key for %s\n", user)
	fmt.Println()
	yellow.Println("  Keys are process-local: the new key takes effect for this process only.")
	yellow.Println("  Content sealed under the previous key is unreadable until re-encrypted;")
	yellow.Println("  re-write each unit (read before rotating, update after) to migrate it.")
	fmt.Println()

	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
