package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/koltyakov/raccoon/internal/config"
	ilog "github.com/koltyakov/raccoon/internal/log"
	"github.com/koltyakov/raccoon/internal/session"
	"github.com/koltyakov/raccoon/internal/store/sqlite"
)

func TestOpenSessionStore(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	store, closeStore, err := openSessionStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*session.MemoryStore); !ok {
		t.Fatalf("expected memory store without a db path, got %T", store)
	}
	if err := closeStore(); err != nil {
		t.Fatal(err)
	}

	cfg.SessionDBPath = filepath.Join(t.TempDir(), "sessions.db")
	store, closeStore, err = openSessionStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = closeStore() }()
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("expected sqlite store with a db path, got %T", store)
	}
	if err := store.Set(context.Background(), "tok", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
}

func TestPrintBanner(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.ConfigPath = "raccoon.toml"
	cfg.WAFEnabled = true
	cfg.MaxConnections = 2000
	var out bytes.Buffer
	printBanner(&out, cfg)

	got := out.String()
	for _, want := range []string{
		"listening on 0.0.0.0:80",
		`cookie "__rsession", lifetime 1h0m0s, challenge 5s`,
		"header 1.0 kB, body 1.0 GB, buffer 1.0 kB",
		"store:    memory",
		"firewall: enabled",
		"at most 2,000 concurrent",
		"example_com  example.com",
		"-> 127.0.0.1:8000",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("banner missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "debug:") {
		t.Fatal("debug line should be omitted when disabled")
	}
}

func TestRunRoutesPrintsTable(t *testing.T) {
	clearEnvVarsForTest(t)
	path := filepath.Join(t.TempDir(), "raccoon.toml")
	body := "[routes]\ndefault = \"127.0.0.1:9000\"\napi_example_com = \"127.0.0.1:9001\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if code := runRoutes(&out, []string{"--config", path}); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two routes, got %q", out.String())
	}
	if f := strings.Fields(lines[0]); len(f) != 4 || f[0] != "api_example_com" || f[1] != "api.example.com" || f[3] != "127.0.0.1:9001" {
		t.Fatalf("unexpected first row %q", lines[0])
	}
	if f := strings.Fields(lines[1]); len(f) != 4 || f[0] != "default" || f[1] != "*" {
		t.Fatalf("unexpected default row %q", lines[1])
	}
}

func TestRunRoutesRejectsBadSettings(t *testing.T) {
	clearEnvVarsForTest(t)
	path := filepath.Join(t.TempDir(), "raccoon.toml")
	if err := os.WriteFile(path, []byte("[routes]\nexample_com = \"127.0.0.1:1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if code := runRoutes(&bytes.Buffer{}, []string{"--config", path}); code != 2 {
		t.Fatalf("expected exit 2 for missing default route, got %d", code)
	}
}

type recordingReloader struct {
	mu   sync.Mutex
	seen []config.Settings
	hit  chan struct{}
}

func (r *recordingReloader) Reload(s config.Settings) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
	r.hit <- struct{}{}
}

func TestReloadOnSignalRereadsSettings(t *testing.T) {
	clearEnvVarsForTest(t)
	path := filepath.Join(t.TempDir(), "raccoon.toml")
	if err := os.WriteFile(path, []byte("[raccoon]\ncookie_name = \"first\"\n[routes]\ndefault = \"127.0.0.1:1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	r := &recordingReloader{hit: make(chan struct{}, 1)}
	go reloadOnSignal(ctx, sig, []string{"--config", path}, r, ilog.Discard())

	if err := os.WriteFile(path, []byte("[raccoon]\ncookie_name = \"second\"\n[routes]\ndefault = \"127.0.0.1:1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sig <- syscall.SIGHUP
	select {
	case <-r.hit:
	case <-time.After(3 * time.Second):
		t.Fatal("reload not triggered")
	}

	// A broken file keeps the current settings.
	if err := os.WriteFile(path, []byte("[raccoon]\nbogus = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sig <- syscall.SIGHUP
	select {
	case <-r.hit:
		t.Fatal("invalid settings must not be applied")
	case <-time.After(200 * time.Millisecond):
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) != 1 || r.seen[0].CookieName != "second" {
		t.Fatalf("unexpected reloads: %+v", r.seen)
	}
}
