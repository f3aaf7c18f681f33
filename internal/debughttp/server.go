// Package debughttp serves the operator side channel: Prometheus metrics,
// a liveness probe and the pprof handlers. It never shares a listener with
// the proxy.
package debughttp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	httppprof "net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Start binds addr and serves the debug endpoints until ctx is canceled.
// An empty addr disables the server. Start returns once the listener is
// bound so address conflicts fail fast, and reports the bound address.
func Start(ctx context.Context, addr string, gatherer prometheus.Gatherer, log *slog.Logger) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	srv := &http.Server{
		Handler:           NewMux(gatherer, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	go func() {
		defer stop()
		if log != nil {
			log.Info("debug server listening", "addr", ln.Addr().String())
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && log != nil {
			log.Error("debug server error", "err", err)
		}
	}()

	return ln.Addr().String(), nil
}

// NewMux returns the debug handler tree. A nil gatherer leaves /metrics out.
func NewMux(gatherer prometheus.Gatherer, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	if gatherer != nil {
		opts := promhttp.HandlerOpts{}
		if log != nil {
			opts.ErrorLog = slog.NewLogLogger(log.Handler(), slog.LevelError)
		}
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, opts))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
	return mux
}
