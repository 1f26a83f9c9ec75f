// ABOUTME: Command line client for an authgate server
// ABOUTME: Signs up, logs in (saving the token), and calls the protected endpoints

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	envURL   = "AUTHGATE_URL"
	envGRPC  = "AUTHGATE_GRPC"
	envToken = "AUTHGATE_TOKEN"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	baseURL := getEnv(envURL, "http://localhost:8080")
	grpcAddr := getEnv(envGRPC, "localhost:50051")

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "signup":
		err = cmdSignup(ctx, newClient(baseURL, ""), args)
	case "login":
		err = cmdLogin(ctx, newClient(baseURL, ""), args, tokenPath())
	case "logout":
		err = cmdLogout(tokenPath())
	case "me":
		err = cmdMe(ctx, newClient(baseURL, getToken()))
	case "secure":
		err = cmdSecure(ctx, newClient(baseURL, getToken()))
	case "health":
		err = cmdHealth(ctx, grpcAddr, getToken())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: authgate-cli <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  signup <username> [--email EMAIL]   Create an account (password is prompted)")
	fmt.Println("  login <username>                    Log in and save the token")
	fmt.Println("  logout                              Remove the saved token")
	fmt.Println("  me                                  Show the authenticated identity")
	fmt.Println("  secure                              Call the protected sample endpoint")
	fmt.Println("  health                              Probe the gRPC health service")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Printf("  %-16s Gateway HTTP URL (default: http://localhost:8080)\n", envURL)
	fmt.Printf("  %-16s Gateway gRPC address (default: localhost:50051)\n", envGRPC)
	fmt.Printf("  %-16s Bearer token (default: contents of %s)\n", envToken, tokenPath())
	fmt.Println()
}

func cmdSignup(ctx context.Context, c *client, args []string) error {
	var username, email string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
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
		case username == "":
			username = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if username == "" {
		return fmt.Errorf("usage: authgate-cli signup <username> [--email EMAIL]")
	}

	pw, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	msg, err := c.signup(ctx, username, pw, email)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("  ✓ %s: %s\n", msg, username)
	return nil
}

func cmdLogin(ctx context.Context, c *client, args []string, path string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: authgate-cli login <username>")
	}

	pw, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	res, err := c.login(ctx, args[0], pw)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(res.Token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Logged in as %s\n", args[0])
	fmt.Printf("  Token saved to %s (expires %s)\n", path, res.ExpiresAt)
	return nil
}

func cmdLogout(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	fmt.Println("  Logged out")
	return nil
}

func cmdMe(ctx context.Context, c *client) error {
	if c.token == "" {
		return fmt.Errorf("not logged in (run authgate-cli login or set %s)", envToken)
	}

	me, err := c.me(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	fmt.Println()
	cyan.Println("  Identity")
	cyan.Println("  --------")
	fmt.Printf("  Principal ID:   %s\n", me.ID)
	fmt.Printf("  Username:       %s\n", me.Username)
	if len(me.Authorities) > 0 {
		green.Printf("  Authorities:    %s\n", strings.Join(me.Authorities, ", "))
	} else {
		fmt.Printf("  Authorities:    (none)\n")
	}
	fmt.Println()
	return nil
}

func cmdSecure(ctx context.Context, c *client) error {
	msg, err := c.secure(ctx)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func cmdHealth(ctx context.Context, addr, token string) error {
	st, err := grpcHealth(ctx, addr, token)
	if err != nil {
		return err
	}
	if st != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("gateway at %s is %s", addr, st)
	}
	color.New(color.FgGreen).Printf("  ✓ %s %s\n", addr, st)
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// tokenPath returns XDG_CONFIG_HOME/authgate/token or ~/.config/authgate/token.
func tokenPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "token"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "authgate", "token")
}

func getToken() string {
	if token := os.Getenv(envToken); token != "" {
		return token
	}
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readPassword(promptText string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, promptText)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
