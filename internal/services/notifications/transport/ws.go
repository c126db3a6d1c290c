// Package transport exposes the notification hub over websockets.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ferrogym/ferrogym/internal/platform/config"
	"github.com/ferrogym/ferrogym/internal/services/notifications/hub"
	"github.com/ferrogym/ferrogym/internal/services/notifications/render"
)

// supportedLanguages drives Accept-Language negotiation for rendered copy.
// The first tag is the fallback.
var supportedLanguages = language.NewMatcher([]language.Tag{
	language.English,
	language.MustParse("pt-BR"),
})

// localizerForRequest negotiates the connection language from the handshake
// and returns the printer used to render notification copy.
func localizerForRequest(r *http.Request) render.Localizer {
	tag := language.English
	if r != nil {
		if accepted, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil && len(accepted) > 0 {
			tag, _, _ = supportedLanguages.Match(accepted...)
		}
	}
	return message.NewPrinter(tag)
}

// closeUnauthorized is sent after the handshake when token verification
// fails; the handshake itself cannot carry a body.
const closeUnauthorized = 4401

const (
	defaultPingInterval = 30 * time.Second
	maxMissedPongs      = 2
)

// configEnv holds raw env values before post-parse validation.
type configEnv struct {
	AllowedOrigins []string      `env:"FERROGYM_ALLOWED_WS_ORIGINS" envSeparator:","`
	PingInterval   time.Duration `env:"FERROGYM_WS_PING_INTERVAL"   envDefault:"30s"`
}

// Config controls websocket transport behavior.
type Config struct {
	AllowedOrigins []string
	PingInterval   time.Duration
}

// LoadConfigFromEnv reads websocket configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("parse websocket env: %w", err)
	}
	cfg := Config{
		AllowedOrigins: raw.AllowedOrigins,
		PingInterval:   raw.PingInterval,
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	return c
}

// Authorizer resolves an access token to a principal id.
type Authorizer interface {
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// Handler upgrades notification websocket connections and bridges them to
// the hub.
type Handler struct {
	cfg        Config
	hub        *hub.Hub
	authorizer Authorizer
}

// NewHandler wires the websocket transport.
func NewHandler(cfg Config, h *hub.Hub, authorizer Authorizer) (*Handler, error) {
	if h == nil {
		return nil, errors.New("hub is required")
	}
	if authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	return &Handler{cfg: cfg.withDefaults(), hub: h, authorizer: authorizer}, nil
}

// Endpoint returns the HTTP handler for the websocket upgrade path.
func (h *Handler) Endpoint() http.Handler {
	wsHandler := websocket.Handler(h.handleConn)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !h.originAllowed(r.Header.Get("Origin")) {
			log.Printf("notifications: websocket rejected: origin %q not allowed for remote=%s", r.Header.Get("Origin"), r.RemoteAddr)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
}

func (h *Handler) originAllowed(origin string) bool {
	if len(h.cfg.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// accessTokenFromRequest extracts the bearer token. Browsers cannot set
// arbitrary headers on a websocket handshake, so the subprotocol list and a
// query parameter are accepted alongside the Authorization header.
func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, header := range r.Header.Values("Sec-Websocket-Protocol") {
		for _, entry := range strings.Split(header, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" || strings.EqualFold(entry, "bearer") {
				continue
			}
			return entry
		}
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (h *Handler) handleConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	ctx := context.Background()
	if request != nil {
		ctx = request.Context()
	}

	principalID, err := h.authorizer.Authenticate(ctx, accessTokenFromRequest(request))
	if err != nil || strings.TrimSpace(principalID) == "" {
		if err != nil {
			log.Printf("notifications: websocket unauthorized: %v", err)
		}
		_ = conn.WriteClose(closeUnauthorized)
		return
	}

	peer := newWSPeer(conn, localizerForRequest(request))
	if err := h.hub.Attach(ctx, principalID, peer); err != nil {
		log.Printf("notifications: attach failed for principal %s: %v", principalID, err)
		return
	}
	defer h.hub.Detach(principalID, peer)

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(peer, done)

	decoder := json.NewDecoder(conn)
	for {
		var frame hub.Frame
		if err := decoder.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Printf("notifications: websocket read for principal %s: %v", principalID, err)
			}
			return
		}

		switch frame.Type {
		case hub.FramePong:
			peer.pongReceived()
		case hub.FrameMarkRead:
			if strings.TrimSpace(frame.ID) == "" {
				continue
			}
			if _, err := h.hub.MarkRead(ctx, principalID, frame.ID); err != nil {
				log.Printf("notifications: mark read %s for principal %s: %v", frame.ID, principalID, err)
			}
		default:
			// Unknown client frames are ignored so clients can evolve.
		}
	}
}

// pingLoop sends app-level pings and closes the connection after two
// intervals pass without a pong.
func (h *Handler) pingLoop(peer *wsPeer, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if peer.missedPongs() >= maxMissedPongs {
				peer.close()
				return
			}
			if err := peer.Send(hub.Frame{Type: hub.FramePing}); err != nil {
				peer.close()
				return
			}
			peer.pingSent()
		}
	}
}

// wsPeer serializes writes to one websocket connection and localizes
// notification copy for it.
type wsPeer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
	loc     render.Localizer
	missed  int
}

func newWSPeer(conn *websocket.Conn, loc render.Localizer) *wsPeer {
	return &wsPeer{conn: conn, encoder: json.NewEncoder(conn), loc: loc}
}

// Send implements hub.Conn. Notification frames are annotated with copy
// rendered in the connection language before they go out.
func (p *wsPeer) Send(frame hub.Frame) error {
	if frame.Type == hub.FrameNotification && frame.Notification != nil {
		rendered := render.Render(p.loc, render.Input{
			Kind:        frame.Notification.Kind,
			PayloadJSON: frame.Notification.PayloadJSON,
			Channel:     render.ChannelInApp,
		})
		frame.Title = rendered.Title
		frame.Body = rendered.BodyText
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *wsPeer) pingSent() {
	p.mu.Lock()
	p.missed++
	p.mu.Unlock()
}

func (p *wsPeer) pongReceived() {
	p.mu.Lock()
	p.missed = 0
	p.mu.Unlock()
}

func (p *wsPeer) missedPongs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.missed
}

func (p *wsPeer) close() {
	_ = p.conn.Close()
}
