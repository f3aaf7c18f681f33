// Package proxy is the session-gating reverse proxy: it accepts raw TCP
// connections, answers clients without a valid session with a challenge
// page, and relays everyone else to the backend selected by the Host
// header. Each connection carries exactly one request.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	xnetutil "golang.org/x/net/netutil"

	"github.com/koltyakov/raccoon/internal/config"
	"github.com/koltyakov/raccoon/internal/session"
	"github.com/koltyakov/raccoon/internal/templates"
	"github.com/koltyakov/raccoon/internal/waf"
)

const defaultDialTimeout = 10 * time.Second
const defaultShutdownWait = 15 * time.Second
const maxAcceptBackoff = time.Second

// Dialer opens backend connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Server owns the listener, the session store and the current settings.
type Server struct {
	store   session.Store
	log     *slog.Logger
	metrics *Metrics
	dialer  Dialer
	now     func() time.Time

	current atomic.Pointer[runtime]
	connSeq atomic.Uint64
	wg      sync.WaitGroup

	shutdownWait time.Duration
}

// runtime is everything a connection needs from the settings, built once
// per settings value so that a reload swaps it as a whole.
type runtime struct {
	settings config.Settings
	pages    *templates.Renderer
	firewall *waf.Firewall
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics uses m instead of a private collector set.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDialer replaces the backend dialer.
func WithDialer(d Dialer) Option {
	return func(s *Server) { s.dialer = d }
}

// WithClock replaces time.Now for session expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithShutdownWait bounds how long Run waits for in-flight connections.
func WithShutdownWait(d time.Duration) Option {
	return func(s *Server) { s.shutdownWait = d }
}

// New creates a proxy server for settings backed by store.
func New(settings config.Settings, store session.Store, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		store:        store,
		log:          logger,
		dialer:       &net.Dialer{Timeout: defaultDialTimeout},
		now:          time.Now,
		shutdownWait: defaultShutdownWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if c, ok := store.(session.Counter); ok {
		s.metrics.trackSessions(c)
	}
	s.current.Store(s.newRuntime(settings))
	return s
}

func (s *Server) newRuntime(settings config.Settings) *runtime {
	return &runtime{
		settings: settings,
		pages:    templates.New(settings.StaticDir),
		firewall: waf.New(waf.Config{
			Enabled: settings.WAFEnabled,
			OnBlock: func(evt waf.BlockEvent) { s.metrics.blocked(evt.Rule) },
		}, s.log),
	}
}

// Settings returns the settings new connections are handled with.
func (s *Server) Settings() config.Settings {
	return s.current.Load().settings
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Reload swaps in new settings. Connections already in progress keep the
// settings they started with. The listen address is only read at start.
func (s *Server) Reload(settings config.Settings) {
	prev := s.current.Swap(s.newRuntime(settings))
	if prev != nil && prev.settings.Addr() != settings.Addr() {
		s.log.Warn("listen address change requires a restart",
			"current", prev.settings.Addr(), "configured", settings.Addr())
	}
	s.log.Info("settings reloaded", "routes", len(settings.Routes), "waf", settings.WAFEnabled)
}

// Run listens on the configured address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Settings().Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, handling each one on its own goroutine.
// With max_connections set, Accept blocks while that many connections are
// open. Canceling ctx closes ln; Serve then waits a bounded time for
// in-flight connections and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if n := s.Settings().MaxConnections; n > 0 {
		ln = xnetutil.LimitListener(ln, n)
	}
	s.log.Info("raccoon is listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			backoff = nextBackoff(backoff)
			s.log.Warn("accept failed", "err", err, "retry_in", backoff)
			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
			continue
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}

	s.log.Info("shutdown requested")
	if !waitGroupWait(&s.wg, s.shutdownWait) {
		s.log.Warn("connections still in flight after shutdown wait", "wait", s.shutdownWait)
	}
	return nil
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return 5 * time.Millisecond
	}
	return min(cur*2, maxAcceptBackoff)
}

func (s *Server) nextConnID() string {
	b := make([]byte, 0, 32)
	b = append(b, "conn_"...)
	b = strconv.AppendInt(b, time.Now().UnixNano(), 10)
	b = append(b, '_')
	b = strconv.AppendUint(b, s.connSeq.Add(1), 10)
	return string(b)
}

func waitGroupWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
