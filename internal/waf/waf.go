// Package waf implements a lightweight request firewall that blocks common
// attack patterns (SQL injection, XSS, path traversal, shell injection,
// scanner bots, etc.) before a request is forwarded to a backend.
package waf

import (
	"log/slog"

	"github.com/koltyakov/raccoon/internal/httpproto"
)

// BlockEvent carries context about a single blocked request so that
// callers can produce meaningful audit log entries.
type BlockEvent struct {
	Host       string // normalised hostname (port stripped, lowercased)
	Rule       string // name of the rule that matched
	Method     string
	RequestURI string // request target as received
	RemoteAddr string // client IP
	UserAgent  string
}

// Config controls firewall behaviour.
type Config struct {
	Enabled bool
	// AuditOnly logs matched rules without blocking the request (dry-run mode).
	AuditOnly bool
	// OnBlock is called (if non-nil) every time the firewall blocks (or would
	// block, in audit mode) a request.
	OnBlock func(BlockEvent)
}

// Firewall holds pre-compiled rules. A nil *Firewall allows everything.
type Firewall struct {
	rules     []rule
	log       *slog.Logger
	auditOnly bool
	onBlock   func(BlockEvent)
}

// New returns a firewall for cfg, or nil when cfg.Enabled is false.
func New(cfg Config, logger *slog.Logger) *Firewall {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Firewall{
		rules:     defaultRules(),
		log:       logger,
		auditOnly: cfg.AuditOnly,
		onBlock:   cfg.OnBlock,
	}
}

// Check inspects req and reports whether it must be rejected. remoteIP is
// only used for logging and the block event.
func (fw *Firewall) Check(req *httpproto.Request, remoteIP string) (BlockEvent, bool) {
	if fw == nil || req == nil {
		return BlockEvent{}, false
	}
	matched, ruleName := fw.check(req)
	if !matched {
		return BlockEvent{}, false
	}

	host, _ := req.Header.Lookup("Host")
	userAgent, _ := req.Header.Lookup("User-Agent")
	evt := BlockEvent{
		Host:       normalizeHost(host),
		Rule:       ruleName,
		Method:     string(req.Method),
		RequestURI: req.Path,
		RemoteAddr: remoteIP,
		UserAgent:  userAgent,
	}

	logMsg := "waf blocked request"
	if fw.auditOnly {
		logMsg = "waf matched request (audit)"
	}
	fw.log.Warn(logMsg,
		"rule", evt.Rule,
		"method", evt.Method,
		"uri", evt.RequestURI,
		"remote", evt.RemoteAddr,
		"ua", evt.UserAgent,
	)
	if fw.onBlock != nil {
		fw.onBlock(evt)
	}
	return evt, !fw.auditOnly
}
