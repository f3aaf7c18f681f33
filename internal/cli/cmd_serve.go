package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/koltyakov/raccoon/internal/config"
	"github.com/koltyakov/raccoon/internal/debughttp"
	ilog "github.com/koltyakov/raccoon/internal/log"
	"github.com/koltyakov/raccoon/internal/proxy"
	"github.com/koltyakov/raccoon/internal/session"
	"github.com/koltyakov/raccoon/internal/store/sqlite"
)

func runServe(ctx context.Context, args []string) int {
	loadRaccoonEnvFromDotEnv(".env")

	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.LogFormat)

	store, closeStore, err := openSessionStore(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "session store error:", err)
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close session store", "err", err)
		}
	}()

	srv := proxy.New(cfg, store, logger)
	if _, err := debughttp.Start(ctx, cfg.DebugListen, srv.Metrics().Gatherer(), logger); err != nil {
		fmt.Fprintln(os.Stderr, "debug listener error:", err)
		return 1
	}

	printBanner(os.Stdout, cfg)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnSignal(ctx, hup, args, srv, logger)

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}

// openSessionStore picks the SQLite store when a database path is
// configured and the in-memory store otherwise.
func openSessionStore(cfg config.Settings) (session.Store, func() error, error) {
	path := strings.TrimSpace(cfg.SessionDBPath)
	if path == "" {
		return session.NewMemoryStore(), func() error { return nil }, nil
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// reloader is the part of the proxy a settings reload touches.
type reloader interface {
	Reload(config.Settings)
}

// reloadOnSignal re-resolves settings from the same sources the process
// started with each time sig fires. A settings error keeps the current
// settings in place.
func reloadOnSignal(ctx context.Context, sig <-chan os.Signal, args []string, r reloader, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
		}
		cfg, err := config.ParseServerFlags(args)
		if err != nil {
			logger.Error("settings reload failed, keeping current settings", "err", err)
			continue
		}
		r.Reload(cfg)
	}
}

func printBanner(w io.Writer, cfg config.Settings) {
	fmt.Fprintf(w, "raccoon %s listening on %s\n", Version, cfg.Addr())
	fmt.Fprintf(w, "  settings: %s\n", cfg.ConfigPath)
	fmt.Fprintf(w, "  session:  cookie %q, lifetime %s, challenge %s\n",
		cfg.CookieName, cfg.CookieTTL(), time.Duration(cfg.ChallengeTimeMS)*time.Millisecond)
	fmt.Fprintf(w, "  limits:   header %s, body %s, buffer %s\n",
		humanize.Bytes(uint64(cfg.MaxHeaderSizeBytes)),
		humanize.Bytes(uint64(cfg.MaxBodySizeBytes)),
		humanize.Bytes(uint64(cfg.BufferSizeBytes)))
	if cfg.MaxConnections > 0 {
		fmt.Fprintf(w, "  conns:    at most %s concurrent\n", humanize.Comma(int64(cfg.MaxConnections)))
	}
	store := "memory"
	if cfg.SessionDBPath != "" {
		store = "sqlite " + cfg.SessionDBPath
	}
	fmt.Fprintf(w, "  store:    %s\n", store)
	if cfg.WAFEnabled {
		fmt.Fprintln(w, "  firewall: enabled")
	}
	if cfg.DebugListen != "" {
		fmt.Fprintf(w, "  debug:    http://%s/metrics\n", cfg.DebugListen)
	}
	fmt.Fprintln(w, "  routes:")
	writeRoutes(w, cfg, "    ")
}

// writeRoutes prints the routing table sorted by route name.
func writeRoutes(w io.Writer, cfg config.Settings, indent string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range cfg.RouteNames() {
		fmt.Fprintf(tw, "%s%s\t%s\t-> %s\n", indent, name, routeHost(name), cfg.Routes[name])
	}
	_ = tw.Flush()
}

func routeHost(name string) string {
	if name == "default" {
		return "*"
	}
	return strings.ReplaceAll(name, "_", ".")
}
