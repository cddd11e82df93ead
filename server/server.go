package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/Selina744/group-planner-sub000/api"
	"github.com/Selina744/group-planner-sub000/audit"
	"github.com/Selina744/group-planner-sub000/auth"
	"github.com/Selina744/group-planner-sub000/config"
	"github.com/Selina744/group-planner-sub000/metrics"
	"github.com/Selina744/group-planner-sub000/realtime"
	"github.com/Selina744/group-planner-sub000/store"
	"github.com/Selina744/group-planner-sub000/transport/mcp"
	"github.com/Selina744/group-planner-sub000/transport/websocket"
)

// backend is what the realtime service needs from a store.
type backend interface {
	realtime.UserLoader
	realtime.MembershipChecker
}

// Server owns every long-lived piece of the gateway: the realtime service,
// its transports, the HTTP listener and the optional tunnel.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger

	svc     *realtime.Service
	hub     *websocket.Hub
	metrics *metrics.Metrics
	http    *http.Server
	ln      net.Listener
	tunnel  ngrok.Tunnel

	redis     *redis.Client
	redisSink *audit.RedisSink
	pg        *store.Postgres

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errc   chan error

	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires the gateway from cfg and binds its listener. configPath, when
// set, is watched for permission changes once the server starts.
func New(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) (_ *Server, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		metrics:    metrics.New(),
		errc:       make(chan error, 2),
	}
	defer func() {
		if err != nil {
			s.closeBackends()
		}
	}()

	secret := cfg.Auth.Secret()
	if secret == "" {
		return nil, fmt.Errorf("server: %s is empty; a JWT secret is required", cfg.Auth.SecretEnv)
	}

	users, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := s.openAudit(ctx)
	if err != nil {
		return nil, err
	}
	allowed, err := baseAllowed(cfg)
	if err != nil {
		return nil, err
	}

	s.svc, err = realtime.NewService(realtime.Options{
		Verifier:          auth.NewJWT(secret, cfg.Auth.Issuer),
		Users:             users,
		Members:           users,
		Audit:             sink,
		Logger:            logger,
		Metrics:           s.metrics,
		Permissions:       realtime.NewPermissions(allowed),
		HandshakeTimeout:  cfg.Auth.HandshakeTimeout,
		MembershipTimeout: cfg.Realtime.MembershipTimeout,
		SensitiveHeaders:  []string{cfg.Admin.EffectiveHeader()},
	})
	if err != nil {
		return nil, err
	}

	s.hub = websocket.NewHub(s.svc, websocket.Options{
		SendBuffer:      cfg.Realtime.SendBuffer,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		WriteWait:       cfg.Realtime.WriteWait,
		PongWait:        cfg.Realtime.PongWait,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Logger:          logger,
	})

	s.ln, err = net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return nil, fmt.Errorf("server: listen on %s: %w", cfg.Server.Addr(), err)
	}

	if openAdmin(cfg) {
		logger.Warn("admin API has no key and is reachable beyond loopback; broadcast and notify are open to anyone",
			"host", cfg.Server.Host, "api_key_env", cfg.Admin.KeyEnv)
	}

	mcpClient := mcp.NewClient(s.loopbackURL(), mcp.WithAPIKey(cfg.Admin.EffectiveHeader(), cfg.Admin.Key()))
	apiServer := api.NewServer(api.Options{
		Realtime:       s.svc,
		WebSocket:      s.hub,
		Metrics:        s.metrics.Handler(),
		MCP:            mcpClient.HTTPHandler(),
		APIKey:         cfg.Admin.Key(),
		APIKeyHeader:   cfg.Admin.EffectiveHeader(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Ready:          s.ready,
		Logger:         logger,
	})

	s.http = &http.Server{
		Handler:      apiServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) openStore(ctx context.Context) (backend, error) {
	switch s.cfg.Store.Driver {
	case "postgres":
		url := s.cfg.Store.DatabaseURL()
		if url == "" {
			return nil, fmt.Errorf("server: %s is empty", s.cfg.Store.DatabaseURLEnv)
		}
		pg, err := store.NewPostgres(ctx, url, s.logger)
		if err != nil {
			return nil, err
		}
		s.pg = pg
		return pg, nil
	default:
		mem := store.NewMemory()
		if s.cfg.Store.SeedFile != "" {
			if err := mem.LoadSeed(s.cfg.Store.SeedFile); err != nil {
				return nil, err
			}
		}
		return mem, nil
	}
}

func (s *Server) openAudit(ctx context.Context) (audit.Sink, error) {
	logSink := audit.NewLogSink(s.logger)
	if s.cfg.Audit.Sink == "log" {
		return logSink, nil
	}

	url := s.cfg.Redis.URL()
	if url == "" {
		return nil, fmt.Errorf("server: %s is empty", s.cfg.Redis.URLEnv)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("server: parse redis url: %w", err)
	}
	s.redis = redis.NewClient(opts)
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("server: ping redis: %w", err)
	}
	s.redisSink = audit.NewRedisSink(s.redis, s.cfg.Audit.Stream, 0, s.logger)

	if s.cfg.Audit.Sink == "redis" {
		return s.redisSink, nil
	}
	return audit.Multi{logSink, s.redisSink}, nil
}

func baseAllowed(cfg *config.Config) ([]realtime.UpdateType, error) {
	if len(cfg.Permissions.BaseAllowed) == 0 {
		return realtime.DefaultBaseAllowed(), nil
	}
	allowed, err := realtime.ParseUpdateTypes(cfg.Permissions.BaseAllowed)
	if err != nil {
		return nil, fmt.Errorf("server: permissions.base_allowed: %w", err)
	}
	return allowed, nil
}

// openAdmin reports whether the admin API is unprotected on a non-loopback host.
func openAdmin(cfg *config.Config) bool {
	if cfg.Admin.Key() != "" {
		return false
	}
	host := cfg.Server.Host
	if host == "localhost" {
		return false
	}
	ip := net.ParseIP(host)
	return ip == nil || !ip.IsLoopback()
}

// Addr is the bound local address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Service exposes the realtime core.
func (s *Server) Service() *realtime.Service {
	return s.svc
}

func (s *Server) loopbackURL() string {
	addr := s.ln.Addr().(*net.TCPAddr)
	host := "127.0.0.1"
	if addr.IP.IsLoopback() {
		host = addr.IP.String()
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(addr.Port))
}

// ready backs /healthz.
func (s *Server) ready(ctx context.Context) error {
	if s.pg != nil {
		if err := s.pg.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Start runs the realtime reactor, serves HTTP and, when configured, opens
// the tunnel and the config watcher. It returns once everything is running.
func (s *Server) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.svc.Run(runCtx)
		}()

		if s.redisSink != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.redisSink.Run(runCtx)
			}()
		}

		s.serve(s.ln, "local")
		s.logger.Info("HTTP server listening", "addr", s.Addr())
		s.logger.Info("endpoints", "api", "/api", "websocket", "/ws", "mcp", "/mcp", "metrics", "/metrics")

		if s.cfg.Tunnel.Enabled {
			if err = s.openTunnel(ctx); err != nil {
				return
			}
		}

		if s.configPath != "" {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := config.Watch(runCtx, s.configPath, s.logger, s.applyConfig); err != nil {
					s.logger.Warn("config watch stopped", "error", err)
				}
			}()
		}
	})
	return err
}

func (s *Server) serve(ln net.Listener, name string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "listener", name, "error", err)
			select {
			case s.errc <- fmt.Errorf("server: serve %s: %w", name, err):
			default:
			}
		}
	}()
}

func (s *Server) openTunnel(ctx context.Context) error {
	token := s.cfg.Tunnel.Authtoken()
	if token == "" {
		s.logger.Warn("tunnel enabled but no auth token provided", "env", s.cfg.Tunnel.AuthtokenEnv)
		return nil
	}

	var endpoint ngrokConfig.Tunnel
	if d := s.cfg.Tunnel.Domain; d != "" {
		endpoint = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(d))
	} else {
		endpoint = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, endpoint, ngrok.WithAuthtoken(token))
	if err != nil {
		return fmt.Errorf("server: start tunnel: %w", err)
	}
	s.tunnel = tun
	s.logger.Info("tunnel established", "url", tun.URL())
	s.serve(tun, "tunnel")
	return nil
}

// applyConfig hot-swaps the base permission set. Other settings need a
// restart.
func (s *Server) applyConfig(cfg *config.Config) {
	allowed, err := baseAllowed(cfg)
	if err != nil {
		s.logger.Warn("ignoring config reload", "error", err)
		return
	}
	s.svc.Permissions().SetBaseAllowed(allowed)
	s.logger.Info("permissions reloaded", "base_allowed", allowed)
}

// Run starts the server and blocks until ctx is cancelled or serving fails,
// then shuts down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		s.Shutdown(context.Background())
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case runErr = <-s.errc:
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Join(runErr, s.Shutdown(shutdownCtx))
}

// Shutdown closes every client connection, then stops HTTP, the tunnel and
// the background goroutines. Calling it again returns the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		if s.cancel == nil {
			// Never started.
			s.closeBackends()
			return
		}

		var errs []error
		if err := s.svc.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("realtime: %w", err))
		}
		s.hub.Close()
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
		if s.tunnel != nil {
			if err := s.tunnel.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("failed to close tunnel", "error", err)
			}
		}
		if err := s.hub.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("websocket pumps: %w", err))
		}

		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.closeBackends()

		s.shutdownErr = errors.Join(errs...)
		s.logger.Info("server stopped")
	})
	return s.shutdownErr
}

func (s *Server) closeBackends() {
	if s.ln != nil && s.cancel == nil {
		s.ln.Close()
	}
	if s.redisSink != nil {
		s.redisSink.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pg != nil {
		s.pg.Close()
	}
}
