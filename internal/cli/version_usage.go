package cli

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/koltyakov/raccoon/internal/versionutil"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `raccoon - session-gating reverse proxy

Clients without a valid session cookie get a short challenge page; clients
with one are relayed to the backend selected by the Host header.

Usage:
  raccoon [flags]                       Start the proxy (same as serve)
  raccoon serve [flags]                 Start the proxy
  raccoon routes [flags]                Print the resolved routing table
  raccoon version                       Print version
  raccoon help                          Show this help

Flags (serve, routes):
  --config PATH                         Settings file (default: raccoon.toml)
  --host-ip IP --port N                 Listen address
  --cookie-name NAME                    Session cookie name
  --challenge-time-ms N                 Delay before the challenge page reloads
  --cookie-expire-minutes N             Session lifetime
  --max-header-size N --max-body-size N Request and response limits in bytes
  --buffer-size N                       Socket read chunk size in bytes
  --static-dir DIR                      Directory with page template overrides
  --idle-timeout DURATION               Per-connection inactivity limit (0 disables)
  --max-connections N                   Concurrent client connection cap (0 is unlimited)
  --session-db PATH                     Persist sessions in SQLite
  --waf                                 Enable the request firewall
  --debug-listen ADDR                   Serve /metrics, /healthz and pprof on ADDR
  --log-level LEVEL --log-format FMT    debug|info|warn|error, text|json

Settings precedence: flags > RACCOON_* environment > .env > settings file > defaults.
The settings file is created with defaults when it does not exist.
Send SIGHUP to reload it without dropping connections.

Environment Variables:
  RACCOON_CONFIG                  Settings file path
  RACCOON_COOKIE_NAME             Session cookie name (default: __rsession)
  RACCOON_HOST_IP                 Listen IP (default: 0.0.0.0)
  RACCOON_HOST_PORT               Listen port (default: 80)
  RACCOON_SESSION_DB_PATH         SQLite session database path
  RACCOON_WAF_ENABLED             Enable the firewall (true|1|yes)
  RACCOON_LOG_LEVEL               Log level (default: info)`)
}

// Version is set at build time via -ldflags.
var Version = versionutil.Dev

func init() {
	Version = versionutil.Resolve(Version, gitDescribe)
}

func gitDescribe() (string, error) {
	out, err := exec.Command("git", "describe", "--tags", "--always").Output()
	return string(out), err
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, "raccoon", Version)
}
