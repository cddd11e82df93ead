// Command groupplanner runs the Group Planner realtime gateway.
//
// It supports these commands:
//  1. "serve" (default) – runs the HTTP server exposing the WebSocket endpoint,
//     the admin REST API, metrics and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server against a running gateway, or spins up
//     an internal one when none is reachable
//  3. "token" – mints a development JWT for a user
//  4. "version" – prints the version
//
// Configuration comes from a YAML file (see package config); secrets are read
// from the environment, optionally populated from a .env file.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"

	"github.com/Selina744/group-planner-sub000/auth"
	"github.com/Selina744/group-planner-sub000/config"
	"github.com/Selina744/group-planner-sub000/logging"
	gateway "github.com/Selina744/group-planner-sub000/server"
	"github.com/Selina744/group-planner-sub000/transport/mcp"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Group Planner Realtime Gateway"
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:           "groupplanner",
		Usage:          AppName,
		Version:        Version,
		DefaultCommand: "serve",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file (defaults when empty)",
				Sources: cli.EnvVars("GROUPPLANNER_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the gateway HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "host", Usage: "override server.host"},
					&cli.IntFlag{Name: "port", Usage: "override server.port"},
				},
				Action: runServe,
			},
			{
				Name:  "mcp",
				Usage: "Run an MCP stdio server for the admin tools",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "api-url",
						Usage:   "admin API of a running gateway",
						Value:   "http://localhost:8080",
						Sources: cli.EnvVars("GROUPPLANNER_API_URL"),
					},
				},
				Action: runMCP,
			},
			{
				Name:  "token",
				Usage: "Mint a development JWT for a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "subject user id", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: time.Hour},
				},
				Action: runToken,
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Fprintf(cmd.Root().Writer, "%s v%s\n", AppName, Version)
					return nil
				},
			},
		},
	}
}

// loadConfig reads the --config file and builds the process logger.
func loadConfig(cmd *cli.Command, logOut io.Writer) (*config.Config, string, *slog.Logger, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", nil, err
	}
	logger := logging.New(logOut, cfg.Log.Env, cfg.Log.Level)
	return cfg, path, logger, nil
}

// runServe starts the gateway and blocks until a shutdown signal.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, path, logger, err := loadConfig(cmd, os.Stderr)
	if err != nil {
		return err
	}
	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}

	logger.Info("starting", "app", AppName, "version", Version, "addr", cfg.Server.Addr())

	srv, err := gateway.New(ctx, cfg, path, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// runMCP serves the admin tools over stdio. It reuses a running gateway when
// one answers at --api-url; otherwise it starts an internal one on a random
// loopback port. Logs go to stderr since stdout carries the protocol.
func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, path, logger, err := loadConfig(cmd, os.Stderr)
	if err != nil {
		return err
	}

	baseURL := cmd.String("api-url")
	if probe(ctx, baseURL) {
		logger.Info("using external gateway for MCP", "url", baseURL)
	} else {
		logger.Info("no gateway reachable, starting internal server", "url", baseURL)

		cfg.Server.Host = "127.0.0.1"
		cfg.Server.Port = 0
		cfg.Tunnel.Enabled = false
		srv, err := gateway.New(ctx, cfg, path, logger)
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		baseURL = "http://" + srv.Addr()
	}

	client := mcp.NewClient(baseURL, mcp.WithAPIKey(cfg.Admin.EffectiveHeader(), cfg.Admin.Key()))
	logger.Info("MCP stdio server ready", "api", baseURL)
	return server.ServeStdio(client.GetMCPServer())
}

// runToken prints a token signed with the configured secret.
func runToken(ctx context.Context, cmd *cli.Command) error {
	cfg, _, _, err := loadConfig(cmd, io.Discard)
	if err != nil {
		return err
	}
	secret := cfg.Auth.Secret()
	if secret == "" {
		return fmt.Errorf("%s is empty", cfg.Auth.SecretEnv)
	}
	tok, err := auth.NewJWT(secret, cfg.Auth.Issuer).Sign(cmd.String("user"), cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, tok)
	return nil
}

// probe reports whether a gateway answers /healthz at baseURL.
func probe(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
