// ABOUTME: Entry point for the authgate server
// ABOUTME: Serves the auth API and provides init, register, and health subcommands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/authgate/internal/account"
	"github.com/2389/authgate/internal/auth"
	"github.com/2389/authgate/internal/config"
	"github.com/2389/authgate/internal/gateway"
	"github.com/2389/authgate/internal/password"
	"github.com/2389/authgate/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
              _   _                 _
  __ _ _   _| |_| |__   __ _  __ _| |_ ___
 / _' | | | | __| '_ \ / _' |/ _' | __/ _ \
| (_| | |_| | |_| | | | (_| | (_| | ||  __/
 \__,_|\__,_|\__|_| |_|\__, |\__,_|\__\___|
                       |___/
`

// userConfigDir returns XDG_CONFIG_HOME/authgate or ~/.config/authgate.
func userConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "." // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "authgate")
}

// getConfigPath returns the path to the gateway config file.
// Priority: AUTHGATE_CONFIG env var > XDG_CONFIG_HOME/authgate/gateway.yaml > ~/.config/authgate/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv(config.EnvConfigPath); envPath != "" {
		return envPath
	}
	return filepath.Join(userConfigDir(), "gateway.yaml")
}

// getDataPath returns the authgate data directory.
// Priority: XDG_DATA_HOME/authgate > ~/.local/share/authgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "authgate")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "register":
		err = runRegister(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: authgate <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  register --username NAME       Create an account and save a token for it")
	fmt.Println("  health                         Check gateway readiness")
	fmt.Println("  version                        Print the version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("  %-22s Config file path (default: %s)\n", config.EnvConfigPath, filepath.Join(userConfigDir(), "gateway.yaml"))
	fmt.Printf("  %-22s Overrides database.path\n", config.EnvDBPath)
	fmt.Printf("  %-22s Overrides auth.jwt_secret\n", config.EnvJWTSecret)
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

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	if cfg.Server.GRPCAddr != "" {
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	} else {
		gray.Println("gRPC:      disabled")
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting authgate",
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

// runHealth queries the readiness endpoint of a running gateway.
func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runRegister creates an account directly in the configured database,
// logs it in, and saves the token next to the config file for the CLI.
func runRegister(ctx context.Context, args []string) error {
	var username, email string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--username" || arg == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", arg)
			}
			username = args[i+1]
			i++
		case strings.HasPrefix(arg, "--username="):
			username = strings.TrimPrefix(arg, "--username=")
		case arg == "--email":
			if i+1 >= len(args) {
				return fmt.Errorf("--email requires a value")
			}
			email = args[i+1]
			i++
		case strings.HasPrefix(arg, "--email="):
			email = strings.TrimPrefix(arg, "--email=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if username == "" {
		return fmt.Errorf("--username flag is required")
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pw, err := readPassword(os.Stdin, "Password: ")
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	hasher, err := password.NewBcrypt(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	codec, err := auth.NewJWTCodec([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	svc, err := account.New(account.Config{
		Store:    s,
		Hasher:   hasher,
		Tokens:   codec,
		TokenTTL: cfg.Auth.TokenTTL,
		Logger:   newLogger(config.LoggingConfig{Level: "error"}, io.Discard),
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	p, err := svc.Register(ctx, account.Credentials{Username: username, Password: pw, Email: email})
	if err != nil {
		if errors.Is(err, store.ErrUsernameExists) {
			return fmt.Errorf("username %q already exists", username)
		}
		return fmt.Errorf("registering: %w", err)
	}
	green.Printf("  ✓ Created account: %s\n", p.Username)

	issued, err := svc.Login(ctx, account.Credentials{Username: username, Password: pw})
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(issued.Token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	cyan.Println("  Account")
	cyan.Println("  -------")
	fmt.Printf("  ID:       %s\n", p.ID)
	fmt.Printf("  Username: %s\n", p.Username)
	if p.Email != "" {
		fmt.Printf("  Email:    %s\n", p.Email)
	}
	fmt.Printf("  Token:    expires %s\n", issued.ExpiresAt.Local().Format("Jan 02, 2006 15:04"))
	fmt.Println()
	return nil
}

// readPassword reads a password without echo from a terminal, or a single
// line from anything else.
func readPassword(in *os.File, promptText string) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(os.Stderr, promptText)
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// runInit writes a new config file with a freshly generated JWT secret.
func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "authgate configuration setup")
	fmt.Fprintln(out, "============================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", "localhost:8080")
	grpcAddr := prompt(reader, out, "gRPC address", "localhost:50051")

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	dbPath := prompt(reader, out, "SQLite database path", filepath.Join(getDataPath(), "authgate.db"))

	fmt.Fprintln(out, "\n--- Token Configuration ---")
	tokenTTL := prompt(reader, out, "Token lifetime", "1h")

	fmt.Fprintln(out, "\n--- CORS Configuration ---")
	origins := prompt(reader, out, "Allowed browser origins (comma separated, empty for none)", "http://localhost:3000")

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	content := renderConfig(initAnswers{
		HTTPAddr:  httpAddr,
		GRPCAddr:  grpcAddr,
		DBPath:    dbPath,
		JWTSecret: secret,
		TokenTTL:  tokenTTL,
		Origins:   splitList(origins),
		LogLevel:  logLevel,
		LogFormat: logFormat,
	})

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the signing secret.
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Catch typos in the answers before the user tries to serve.
	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  authgate serve")

	return nil
}

type initAnswers struct {
	HTTPAddr  string
	GRPCAddr  string
	DBPath    string
	JWTSecret string
	TokenTTL  string
	Origins   []string
	LogLevel  string
	LogFormat string
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# authgate configuration\n")
	cfg.WriteString("# Generated by authgate init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", a.GRPCAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DBPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", a.JWTSecret))
	cfg.WriteString(fmt.Sprintf("  token_ttl: %q\n", a.TokenTTL))
	cfg.WriteString("\n")

	cfg.WriteString("cors:\n")
	if len(a.Origins) == 0 {
		cfg.WriteString("  allowed_origins: []\n")
	} else {
		cfg.WriteString("  allowed_origins:\n")
		for _, o := range a.Origins {
			cfg.WriteString(fmt.Sprintf("    - %q\n", o))
		}
	}
	cfg.WriteString("  allow_credentials: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

// generateSecret returns 32 random bytes, base64 encoded.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
