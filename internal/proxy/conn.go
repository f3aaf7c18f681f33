package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/koltyakov/raccoon/internal/domain"
	"github.com/koltyakov/raccoon/internal/httpproto"
	"github.com/koltyakov/raccoon/internal/netutil"
	"github.com/koltyakov/raccoon/internal/session"
	"github.com/koltyakov/raccoon/internal/templates"
	"github.com/koltyakov/raccoon/internal/waf"
)

// Operation names carried by [domain.ConnError].
const (
	opReadRequest  = "read request"
	opSession      = "session lookup"
	opChallenge    = "challenge"
	opFirewall     = "firewall"
	opDial         = "dial upstream"
	opForward      = "forward request"
	opReadResponse = "read response"
	opRelay        = "relay response"
	opGateway      = "gateway error"
)

const challengeGrace = 500 // ms added to challenge_time_ms on the page

const gatewayMessage = "Internal service could not be reached. Try again later."

// conn is the state of one accepted client connection.
type conn struct {
	srv      *Server
	rt       *runtime
	id       string
	log      *slog.Logger
	client   net.Conn
	remoteIP string

	upstream    net.Conn
	route       string
	wroteClient bool
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	// In-flight connections run to completion after shutdown starts.
	ctx = context.WithoutCancel(ctx)
	rt := s.current.Load()
	c := &conn{
		srv:      s,
		rt:       rt,
		id:       s.nextConnID(),
		client:   withIdleTimeout(raw, rt.settings.IdleTimeout),
		remoteIP: netutil.ClientIP(raw.RemoteAddr()),
	}
	c.log = s.log.With("conn_id", c.id, "remote", raw.RemoteAddr().String())

	s.metrics.connOpened()
	defer s.metrics.connClosed()
	defer c.close(raw)

	if err := c.serve(ctx); err != nil {
		c.logError(err)
	}
}

func (c *conn) close(raw net.Conn) {
	if c.upstream != nil {
		_ = c.upstream.Close()
	}
	_ = raw.Close()
}

func (c *conn) serve(ctx context.Context) error {
	set := &c.rt.settings
	req, err := httpproto.ReadRequest(c.client, set.BufferSizeBytes, set.MaxHeaderSizeBytes, set.MaxBodySizeBytes)
	if err != nil {
		return c.fail(opReadRequest, err)
	}
	c.log.Info("request", "method", req.Method, "path", req.Path, "version", req.Version)

	ok, err := c.hasSession(ctx, req)
	if err != nil {
		return c.fail(opSession, err)
	}
	if !ok {
		return c.challenge(ctx)
	}

	if evt, blocked := c.rt.firewall.Check(req, c.remoteIP); blocked {
		return c.reject(evt)
	}

	return c.forward(ctx, req)
}

// hasSession reports whether req carries a known, unexpired session token.
// Expired tokens are deleted on the way.
func (c *conn) hasSession(ctx context.Context, req *httpproto.Request) (bool, error) {
	raw, _ := req.Header.Lookup("Cookie")
	token, ok := httpproto.ParseCookies(raw)[c.rt.settings.CookieName]
	if !ok {
		return false, nil
	}
	expiresAt, found, err := c.srv.store.Get(ctx, token)
	if err != nil || !found {
		return false, err
	}
	if sess := (domain.Session{Token: token, ExpiresAt: expiresAt}); sess.Expired(c.srv.now()) {
		c.log.Debug("session expired", "expired_at", sess.ExpiresAt)
		return false, c.srv.store.Delete(ctx, token)
	}
	return true, nil
}

func (c *conn) challenge(ctx context.Context) error {
	set := &c.rt.settings
	token := session.NewToken()
	if err := c.srv.store.Set(ctx, token, c.srv.now().Add(set.CookieTTL())); err != nil {
		return c.fail(opChallenge, err)
	}
	page, err := c.rt.pages.Render(templates.Challenge, map[string]string{
		"challenge_time": strconv.Itoa(set.ChallengeTimeMS + challengeGrace),
	})
	if err != nil {
		return c.fail(opChallenge, err)
	}

	resp := httpproto.NewResponse(200, "OK")
	resp.Header.Set("Set-Cookie", set.CookieName+"="+token)
	c.srv.metrics.challenged()
	return c.respond(opChallenge, resp, page)
}

func (c *conn) reject(evt waf.BlockEvent) error {
	page, err := c.rt.pages.Render(templates.Intercept, map[string]string{
		"errorcode":    "403",
		"errormessage": "Forbidden",
		"message":      "The request was blocked.",
	})
	if err != nil {
		c.log.Error("render intercept page", "err", err)
		page = []byte("403 Forbidden")
	}
	if err := c.respond(opFirewall, httpproto.NewResponse(403, "Forbidden"), page); err != nil {
		return err
	}
	c.log.Debug("request rejected", "rule", evt.Rule)
	return nil
}

// badGateway answers with the intercept page unless the client has already
// received part of a response, and returns cause as the connection error.
func (c *conn) badGateway(op, stage string, cause error) error {
	c.srv.metrics.upstreamFailed(c.route, stage)
	failure := c.fail(op, cause)
	if c.wroteClient {
		return failure
	}
	page, err := c.rt.pages.Render(templates.Intercept, map[string]string{
		"errorcode":    "502",
		"errormessage": "Bad Gateway",
		"message":      gatewayMessage,
	})
	if err != nil {
		c.log.Error("render intercept page", "err", err)
		page = []byte("502 Bad Gateway")
	}
	return errors.Join(failure, c.respond(opGateway, httpproto.NewResponse(502, "Bad Gateway"), page))
}

// respond writes a locally generated response with a complete body.
func (c *conn) respond(op string, resp *httpproto.Response, body []byte) error {
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.SetBody(body)
	c.wroteClient = true
	if _, err := resp.WriteTo(c.client); err != nil {
		return c.fail(op, err)
	}
	return nil
}

func (c *conn) forward(ctx context.Context, req *httpproto.Request) error {
	set := &c.rt.settings
	host, _ := req.Header.Lookup("Host")
	route, addr := set.ResolveRoute(host)
	c.route = route
	if addr == "" {
		return c.badGateway(opDial, "route", fmt.Errorf("%w for host %q", domain.ErrNoRoute, host))
	}

	up, err := c.srv.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.log.Warn("failed to reach forward location", "route", route, "addr", addr, "err", err)
		return c.badGateway(opDial, "dial", fmt.Errorf("%w: %s: %w", domain.ErrUpstreamUnreachable, addr, err))
	}
	c.upstream = withIdleTimeout(up, set.IdleTimeout)
	c.log.Debug("upstream connected", "route", route, "addr", addr)

	setForwardedFor(req.Header, c.remoteIP)
	if _, err := req.WriteTo(c.upstream); err != nil {
		return c.badGateway(opForward, "write", err)
	}
	n, err := httpproto.CopyPending(tagWrites(c.upstream), c.client, set.BufferSizeBytes, req.Body)
	c.srv.metrics.relayed("request", n)
	if err != nil {
		if isWriteError(err) {
			return c.badGateway(opForward, "write", err)
		}
		return c.fail(opForward, err)
	}

	resp, err := httpproto.ReadResponseFor(c.upstream, req.Method, set.BufferSizeBytes, set.MaxHeaderSizeBytes, set.MaxBodySizeBytes)
	if err != nil {
		return c.badGateway(opReadResponse, "read", err)
	}
	c.srv.metrics.forwardedTo(route)

	c.wroteClient = true
	if _, err := resp.WriteTo(c.client); err != nil {
		return c.fail(opRelay, err)
	}
	n, err = httpproto.CopyPending(c.client, c.upstream, set.BufferSizeBytes, resp.Body)
	c.srv.metrics.relayed("response", n)
	if err != nil {
		return c.fail(opRelay, err)
	}
	c.log.Debug("response relayed", "route", route, "status", resp.Status)
	return nil
}

// setForwardedFor replaces any X-Forwarded-For field, whatever its case,
// with the client IP.
func setForwardedFor(h *httpproto.Header, ip string) {
	const name = "X-Forwarded-For"
	for _, n := range h.Names() {
		if n != name && strings.EqualFold(n, name) {
			h.Del(n)
		}
	}
	h.Set(name, ip)
}

func (c *conn) fail(op string, err error) error {
	return &domain.ConnError{ConnID: c.id, Op: op, Err: err}
}

func (c *conn) logError(err error) {
	var ce *domain.ConnError
	op := "unknown"
	if errors.As(err, &ce) {
		op = ce.Op
	}
	c.srv.metrics.connFailed(op)

	switch {
	case netutil.IsTimeout(err):
		c.log.Debug("connection idle timeout", "op", op)
	case netutil.IsDisconnect(err), errors.Is(err, domain.ErrPrematureStreamEnd):
		c.log.Debug("connection closed by peer", "op", op, "err", err)
	case errors.Is(err, domain.ErrUpstreamUnreachable):
		// already logged with the route
	default:
		c.log.Warn("connection failed", "op", op, "err", err)
	}
}

// writeError marks an error that came from the destination side of a copy.
type writeError struct{ err error }

func (e *writeError) Error() string { return "write: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

type taggedWriter struct{ w io.Writer }

func tagWrites(w io.Writer) io.Writer { return taggedWriter{w: w} }

func (t taggedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		err = &writeError{err: err}
	}
	return n, err
}

func isWriteError(err error) bool {
	var we *writeError
	return errors.As(err, &we)
}
