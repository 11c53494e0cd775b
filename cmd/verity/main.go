// ABOUTME: Entry point for the verity CLI, a client for the vertical-scoped retrieval service.
// ABOUTME: Wires config, session manager, auth state machine, and query dispatcher.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/verity-ai/verity/internal/authstate"
	"github.com/verity-ai/verity/internal/config"
	"github.com/verity-ai/verity/internal/profile"
	"github.com/verity-ai/verity/internal/provider"
	"github.com/verity-ai/verity/internal/query"
	"github.com/verity-ai/verity/internal/session"
	"github.com/verity-ai/verity/internal/signup"
	"github.com/verity-ai/verity/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                   _ _
 __   _____ _ __(_) |_ _   _
 \ \ / / _ \ '__| | __| | | |
  \ V /  __/ |  | | |_| |_| |
   \_/ \___|_|  |_|\__|\__, |
                       |___/
`

// getConfigPath returns the path to the client config file.
// Priority: VERITY_CONFIG env var > XDG_CONFIG_HOME/verity/config.yaml > ~/.config/verity/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VERITY_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "verity", "config.yaml")
}

// getDataPath returns the path to the verity data directory.
// Priority: XDG_DATA_HOME/verity > ~/.local/share/verity
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "verity")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = withApp(ctx, func(a *app) error { return a.cmdLogin(ctx, args) })
	case "logout":
		err = withApp(ctx, func(a *app) error { return a.cmdLogout(ctx) })
	case "signup":
		err = withApp(ctx, func(a *app) error { return a.cmdSignup(ctx, args) })
	case "whoami":
		err = withApp(ctx, func(a *app) error { return a.cmdWhoami(ctx) })
	case "profile":
		err = withApp(ctx, func(a *app) error { return a.cmdProfile(ctx, args) })
	case "ask":
		err = withApp(ctx, func(a *app) error { return a.cmdAsk(ctx, args) })
	case "verticals":
		err = cmdVerticals()
	case "password":
		err = withApp(ctx, func(a *app) error { return a.cmdPassword(ctx, args) })
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: verity <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  login                     Sign in with email and password")
	fmt.Println("  login --oauth <provider>  Print the OAuth sign-in URL for a browser")
	fmt.Println("  logout                    Sign out and clear the local session")
	fmt.Println("  signup                    Create a new account")
	fmt.Println("  whoami                    Show the current identity and profile")
	fmt.Println("  profile refresh           Force a profile reload")
	fmt.Println("  ask <question>            Ask the retrieval service a question")
	fmt.Println("  verticals                 List the known business verticals")
	fmt.Println("  password reset            Request a password recovery email")
	fmt.Println("  password update           Set a new password")
	fmt.Println("  version                   Print the version")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  VERITY_CONFIG             Config file path (default ~/.config/verity/config.yaml)")
	fmt.Println("  VERITY_PROVIDER_URL       Project base URL")
	fmt.Println("  VERITY_ANON_KEY           Anonymous API key")
}

// app bundles the wired components behind every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	sessions   *session.Manager
	machine    *authstate.Machine
	remote     *store.Remote
	cache      *store.Cache
	dispatcher *query.Dispatcher
}

// withApp wires the application, initializes the auth engine, runs fn, and
// tears everything down.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	dataPath := getDataPath()

	sessionFile := cfg.Session.File
	if sessionFile == "" {
		sessionFile = filepath.Join(dataPath, "session.json")
	}

	client := provider.NewClient(cfg.Provider.URL, cfg.Provider.AnonKey)
	sessions := session.NewManager(client, session.NewFileStore(sessionFile), cfg.Provider.RefreshMargin, logger)

	remote := store.NewRemote(cfg.Provider.URL, cfg.Provider.AnonKey, sessions)

	cachePath := cfg.Cache.Path
	if cachePath == "" {
		cachePath = filepath.Join(dataPath, "cache.db")
	}
	cache, err := store.NewCache(cachePath, logger)
	if err != nil {
		// The cache is an offline convenience; run without it
		logger.Warn("profile cache unavailable", "error", err)
		cache = nil
	}

	loader := profile.NewLoader(remote, cache, logger)
	signupGuard := signup.NewGuard(sessions, remote, logger)
	machine := authstate.New(sessions, loader, signupGuard, cfg.Provider.SettleDelay, logger)

	if err := machine.Initialize(ctx); err != nil {
		logger.Warn("session restore failed", "error", err)
	}
	if cfg.Provider.AutoRefresh {
		sessions.StartAutoRefresh(ctx)
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		sessions:   sessions,
		machine:    machine,
		remote:     remote,
		cache:      cache,
		dispatcher: query.NewDispatcher(cfg.Provider.URL, cfg.Provider.AnonKey, sessions, logger),
	}, nil
}

func (a *app) close() {
	a.machine.Close()
	a.sessions.Close()
	if a.cache != nil {
		a.cache.Close()
	}
}

// buildLogger creates the slog logger configured by the logging section.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return slog.New(handler), nil
}
