// Package server wires the gym backend into one HTTP process: passkey
// ceremonies, session tokens, the notification hub, and the websocket
// channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	platformconfig "github.com/ferrogym/ferrogym/internal/platform/config"
	authsqlite "github.com/ferrogym/ferrogym/internal/services/auth/storage/sqlite"
	"github.com/ferrogym/ferrogym/internal/services/auth/httpapi"
	"github.com/ferrogym/ferrogym/internal/services/auth/token"
	"github.com/ferrogym/ferrogym/internal/services/auth/webauthn"
	gymdomain "github.com/ferrogym/ferrogym/internal/services/gym/domain"
	gymhttpapi "github.com/ferrogym/ferrogym/internal/services/gym/httpapi"
	gymsqlite "github.com/ferrogym/ferrogym/internal/services/gym/storage/sqlite"
	"github.com/ferrogym/ferrogym/internal/services/notifications/hub"
	notifsqlite "github.com/ferrogym/ferrogym/internal/services/notifications/storage/sqlite"
	notiftransport "github.com/ferrogym/ferrogym/internal/services/notifications/transport"
)

const (
	challengeReapInterval = 5 * time.Minute
	shutdownTimeout       = 10 * time.Second
)

// configEnv holds raw env values before post-parse validation.
type configEnv struct {
	HTTPAddr            string        `env:"FERROGYM_HTTP_ADDR"            envDefault:"localhost:8080"`
	DataDir             string        `env:"FERROGYM_DATA_DIR"             envDefault:"data"`
	ExpirySweepInterval time.Duration `env:"FERROGYM_EXPIRY_SWEEP_INTERVAL" envDefault:"1h"`
	ExpirySweepWindow   time.Duration `env:"FERROGYM_EXPIRY_SWEEP_WINDOW"   envDefault:"168h"`
}

// Config controls the combined server process.
type Config struct {
	HTTPAddr            string
	DataDir             string
	ExpirySweepInterval time.Duration
	ExpirySweepWindow   time.Duration
}

// LoadConfigFromEnv reads server configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := platformconfig.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("parse server env: %w", err)
	}
	cfg := Config{
		HTTPAddr:            raw.HTTPAddr,
		DataDir:             raw.DataDir,
		ExpirySweepInterval: raw.ExpirySweepInterval,
		ExpirySweepWindow:   raw.ExpirySweepWindow,
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		c.HTTPAddr = "localhost:8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "data"
	}
	if c.ExpirySweepInterval <= 0 {
		c.ExpirySweepInterval = time.Hour
	}
	if c.ExpirySweepWindow <= 0 {
		c.ExpirySweepWindow = 7 * 24 * time.Hour
	}
	return c
}

// Server hosts the gym backend HTTP process.
type Server struct {
	cfg        Config
	listener   net.Listener
	httpServer *http.Server
	authStore  *authsqlite.Store
	notifStore *notifsqlite.Store
	gymStore   *gymsqlite.Store
	hub        *hub.Hub
	gym        *gymdomain.Service
}

// tokenAuthorizer adapts the token service to the websocket transport.
type tokenAuthorizer struct {
	tokens *token.Service
}

func (a tokenAuthorizer) Authenticate(_ context.Context, accessToken string) (string, error) {
	claims, err := a.tokens.VerifyAccess(accessToken)
	if err != nil {
		return "", err
	}
	return claims.PrincipalID, nil
}

// New creates a configured server listening on the configured address.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	server := &Server{cfg: cfg, listener: listener}
	if err := server.wire(); err != nil {
		server.closeStores()
		_ = listener.Close()
		return nil, err
	}
	return server, nil
}

func (s *Server) wire() error {
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	authStore, err := authsqlite.Open(filepath.Join(s.cfg.DataDir, "auth.db"))
	if err != nil {
		return fmt.Errorf("open auth store: %w", err)
	}
	s.authStore = authStore

	notifStore, err := notifsqlite.Open(filepath.Join(s.cfg.DataDir, "notifications.db"))
	if err != nil {
		return fmt.Errorf("open notification store: %w", err)
	}
	s.notifStore = notifStore

	gymStore, err := gymsqlite.Open(filepath.Join(s.cfg.DataDir, "gym.db"))
	if err != nil {
		return fmt.Errorf("open gym store: %w", err)
	}
	s.gymStore = gymStore

	webauthnConfig, err := webauthn.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	engine, err := webauthn.NewEngine(webauthnConfig, authStore)
	if err != nil {
		return err
	}

	tokenConfig, err := token.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	tokens, err := token.NewService(tokenConfig, authStore, authStore)
	if err != nil {
		return err
	}

	notifHub, err := hub.New(notifStore, hub.NewLoopback())
	if err != nil {
		return err
	}
	s.hub = notifHub

	gymService, err := gymdomain.NewService(gymStore, notifHub)
	if err != nil {
		return err
	}
	s.gym = gymService

	wsConfig, err := notiftransport.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	wsHandler, err := notiftransport.NewHandler(wsConfig, notifHub, tokenAuthorizer{tokens: tokens})
	if err != nil {
		return err
	}

	apiHandler, err := httpapi.NewHandler(engine, tokens, notifHub)
	if err != nil {
		return err
	}
	gymHandler, err := gymhttpapi.NewHandler(gymService)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)
	gymHandler.RegisterRoutes(mux, func(next http.Handler) http.Handler {
		return httpapi.Authenticate(tokens, next)
	})
	mux.Handle("/ws/notifications", wsHandler.Endpoint())
	mux.Handle("/ws/notifications/", wsHandler.Endpoint())

	s.httpServer = &http.Server{Handler: mux}
	return nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Gym exposes the gym operations service.
func (s *Server) Gym() *gymdomain.Service {
	if s == nil {
		return nil
	}
	return s.gym
}

// Hub exposes the notification hub.
func (s *Server) Hub() *hub.Hub {
	if s == nil {
		return nil
	}
	return s.hub
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStores()
	defer s.hub.Close()

	s.startChallengeReaper(serverCtx)
	s.startExpirySweep(serverCtx)

	log.Printf("gymd listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// startChallengeReaper deletes stale ceremony nonces in the background.
// Consumption never depends on the reaper; this just keeps the table small.
func (s *Server) startChallengeReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(challengeReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.authStore.DeleteExpiredChallenges(ctx, time.Now().UTC()); err != nil {
					log.Printf("reap challenges: %v", err)
				}
			}
		}
	}()
}

// startExpirySweep warns members about lapsing memberships on an interval.
func (s *Server) startExpirySweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.ExpirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				notified, err := s.gym.SweepExpiringMemberships(ctx, s.cfg.ExpirySweepWindow)
				if err != nil {
					log.Printf("membership expiry sweep: %v", err)
					continue
				}
				if notified > 0 {
					log.Printf("membership expiry sweep notified %d members", notified)
				}
			}
		}
	}()
}

func (s *Server) closeStores() {
	if s.authStore != nil {
		if err := s.authStore.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
	if s.notifStore != nil {
		if err := s.notifStore.Close(); err != nil {
			log.Printf("close notification store: %v", err)
		}
	}
	if s.gymStore != nil {
		if err := s.gymStore.Close(); err != nil {
			log.Printf("close gym store: %v", err)
		}
	}
}
