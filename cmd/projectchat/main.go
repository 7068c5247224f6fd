package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"

	"projectchat/internal/app"
	"projectchat/internal/auth"
	"projectchat/internal/config"
	"projectchat/internal/logging"
)

// ConfigFileEnv names the optional config file (JSON or YAML).
const ConfigFileEnv = "PROJECTCHAT_CONFIG_FILE"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(args []string, stdout, stderr io.Writer) int {
	cfg := config.LoadConfigWithPrecedence(os.Getenv(ConfigFileEnv))

	if len(args) > 0 && args[0] == "token" {
		if err := issueToken(cfg, args[1:], stdout); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		return 0
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := serve(cfg, logger); err != nil {
		logger.Error("projectchat failed", zap.Error(err))
		return 1
	}
	return 0
}

// serve runs the server until SIGINT/SIGTERM.
func serve(cfg *config.Config, logger *zap.Logger) error {
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(context.Background()); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		app.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"projectchat": func(ctx context.Context) error {
				return application.Stop(ctx)
			},
		},
	)

	if code := <-wait; code != 0 {
		return fmt.Errorf("shutdown exited with code %d", code)
	}
	return nil
}

// issueToken prints a signed bearer token for local development.
func issueToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	userID := fs.String("user", "", "user id (required)")
	username := fs.String("name", "", "display name (defaults to the user id)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("token: -user is required")
	}

	service := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	token, err := service.Issue(*userID, *username)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
