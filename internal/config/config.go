package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/koltyakov/raccoon/internal/domain"
)

// Settings is the resolved proxy configuration. A value is immutable once
// built; reloads produce a new one.
type Settings struct {
	ConfigPath string

	CookieName              string
	HostIP                  string
	HostPort                int
	MaxHeaderSizeBytes      int
	MaxBodySizeBytes        int64
	ChallengeTimeMS         int
	CookieExpireTimeMinutes int
	BufferSizeBytes         int
	StaticDir               string
	IdleTimeout             time.Duration
	MaxConnections          int
	SessionDBPath           string
	LogLevel                string
	LogFormat               string
	DebugListen             string
	WAFEnabled              bool

	Routes domain.Routes
}

// Addr returns the listen address.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.HostIP, strconv.Itoa(s.HostPort))
}

// CookieTTL returns how long an issued session stays valid.
func (s Settings) CookieTTL() time.Duration {
	return time.Duration(s.CookieExpireTimeMinutes) * time.Minute
}

// ResolveRoute returns the routing table entry for a Host header value.
// Dots in the host are replaced with underscores before lookup; unknown or
// empty hosts use the default route.
func (s Settings) ResolveRoute(host string) (route, addr string) {
	if host != "" {
		key := RouteKey(host)
		if addr, ok := s.Routes[key]; ok {
			return key, addr
		}
	}
	return domain.DefaultRouteKey, s.Routes[domain.DefaultRouteKey]
}

// RouteKey normalizes a host into its routing table key.
func RouteKey(host string) string {
	return strings.ReplaceAll(host, ".", "_")
}

// RouteNames returns the routing table keys in sorted order.
func (s Settings) RouteNames() []string {
	names := make([]string, 0, len(s.Routes))
	for name := range s.Routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const defaultConfigPath = "raccoon.toml"
const defaultCookieName = "__rsession"
const defaultHostIP = "0.0.0.0"
const defaultHostPort = 80
const defaultMaxHeaderSizeBytes = 1024
const defaultMaxBodySizeBytes = 1_000_000_000
const defaultChallengeTimeMS = 5000
const defaultCookieExpireTimeMinutes = 60
const defaultBufferSizeBytes = 1024
const defaultStaticDir = "static"
const defaultBackend = "127.0.0.1:8000"

// file mirrors the on-disk layout: a [raccoon] table and a [routes] table.
type file struct {
	Raccoon fileSettings      `toml:"raccoon"`
	Routes  map[string]string `toml:"routes"`
}

type fileSettings struct {
	CookieName              string `toml:"cookie_name"`
	HostIP                  string `toml:"host_ip"`
	HostPort                int    `toml:"host_port"`
	MaxHeaderSizeBytes      int    `toml:"max_header_size_bytes"`
	MaxBodySizeBytes        int64  `toml:"max_body_size_bytes"`
	ChallengeTimeMS         int    `toml:"challenge_time_ms"`
	CookieExpireTimeMinutes int    `toml:"cookie_expire_time_minutes"`
	BufferSizeBytes         int    `toml:"buffer_size_bytes"`
	StaticDir               string `toml:"static_dir"`
	IdleTimeout             string `toml:"idle_timeout"`
	MaxConnections          int    `toml:"max_connections"`
	SessionDBPath           string `toml:"session_db_path"`
	LogLevel                string `toml:"log_level"`
	LogFormat               string `toml:"log_format"`
	DebugListen             string `toml:"debug_listen"`
	WAFEnabled              bool   `toml:"waf_enabled"`
}

func defaultFile() file {
	return file{
		Raccoon: fileSettings{
			CookieName:              defaultCookieName,
			HostIP:                  defaultHostIP,
			HostPort:                defaultHostPort,
			MaxHeaderSizeBytes:      defaultMaxHeaderSizeBytes,
			MaxBodySizeBytes:        defaultMaxBodySizeBytes,
			ChallengeTimeMS:         defaultChallengeTimeMS,
			CookieExpireTimeMinutes: defaultCookieExpireTimeMinutes,
			BufferSizeBytes:         defaultBufferSizeBytes,
			StaticDir:               defaultStaticDir,
			IdleTimeout:             "0s",
			LogLevel:                "info",
			LogFormat:               "text",
		},
		Routes: map[string]string{
			domain.DefaultRouteKey: defaultBackend,
			"example_com":          defaultBackend,
		},
	}
}

// Default returns the built-in settings without touching the filesystem
// or the environment.
func Default() Settings {
	s, _ := fromFile(defaultFile())
	return s
}

// Load resolves settings from the file at path and RACCOON_* environment
// variables. A missing file is created with the defaults first.
func Load(path string) (Settings, error) {
	s, err := load(path)
	if err != nil {
		return s, err
	}
	return s, s.Validate()
}

func load(path string) (Settings, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultConfigPath
	}
	f, err := readOrBootstrap(path)
	if err != nil {
		return Settings{}, err
	}
	s, err := fromFile(f)
	if err != nil {
		return s, err
	}
	s.ConfigPath = path
	if err := applyEnv(&s); err != nil {
		return s, err
	}
	return s, nil
}

// ParseServerFlags resolves settings with the precedence defaults, settings
// file, environment, flags.
func ParseServerFlags(args []string) (Settings, error) {
	var (
		configPath    = envOrDefault("RACCOON_CONFIG", defaultConfigPath)
		cookieName    string
		hostIP        string
		hostPort      int
		maxHeader     int
		maxBody       int64
		challengeMS   int
		cookieMinutes int
		bufferSize    int
		staticDir     string
		idleTimeout   time.Duration
		maxConns      int
		sessionDB     string
		logLevel      string
		logFormat     string
		debugListen   string
		wafEnabled    bool
	)

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", configPath, "Settings file path (TOML)")
	fs.StringVar(&cookieName, "cookie-name", "", "Session cookie name")
	fs.StringVar(&hostIP, "host-ip", "", "Listen IP")
	fs.IntVar(&hostPort, "port", 0, "Listen port")
	fs.IntVar(&maxHeader, "max-header-size", 0, "Max message header size in bytes")
	fs.Int64Var(&maxBody, "max-body-size", 0, "Max message body size in bytes")
	fs.IntVar(&challengeMS, "challenge-time-ms", 0, "Challenge page wait in milliseconds")
	fs.IntVar(&cookieMinutes, "cookie-expire-minutes", 0, "Session lifetime in minutes")
	fs.IntVar(&bufferSize, "buffer-size", 0, "Socket read chunk size in bytes")
	fs.StringVar(&staticDir, "static-dir", "", "Directory with page templates")
	fs.DurationVar(&idleTimeout, "idle-timeout", 0, "Per-connection idle timeout (0 disables)")
	fs.IntVar(&maxConns, "max-connections", 0, "Max concurrent client connections (0 is unlimited)")
	fs.StringVar(&sessionDB, "session-db", "", "SQLite session database path (empty keeps sessions in memory)")
	fs.StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error")
	fs.StringVar(&logFormat, "log-format", "", "Log format: text|json")
	fs.StringVar(&debugListen, "debug-listen", "", "Metrics and pprof listen address (empty disables)")
	fs.BoolVar(&wafEnabled, "waf", false, "Enable the request firewall")
	if err := fs.Parse(args); err != nil {
		return Settings{}, err
	}
	if fs.NArg() > 0 {
		return Settings{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	s, err := load(configPath)
	if err != nil {
		return s, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "cookie-name":
			s.CookieName = cookieName
		case "host-ip":
			s.HostIP = hostIP
		case "port":
			s.HostPort = hostPort
		case "max-header-size":
			s.MaxHeaderSizeBytes = maxHeader
		case "max-body-size":
			s.MaxBodySizeBytes = maxBody
		case "challenge-time-ms":
			s.ChallengeTimeMS = challengeMS
		case "cookie-expire-minutes":
			s.CookieExpireTimeMinutes = cookieMinutes
		case "buffer-size":
			s.BufferSizeBytes = bufferSize
		case "static-dir":
			s.StaticDir = staticDir
		case "idle-timeout":
			s.IdleTimeout = idleTimeout
		case "max-connections":
			s.MaxConnections = maxConns
		case "session-db":
			s.SessionDBPath = sessionDB
		case "log-level":
			s.LogLevel = logLevel
		case "log-format":
			s.LogFormat = logFormat
		case "debug-listen":
			s.DebugListen = debugListen
		case "waf":
			s.WAFEnabled = wafEnabled
		}
	})

	return s, s.Validate()
}

// Validate reports the first invalid setting.
func (s *Settings) Validate() error {
	s.CookieName = strings.TrimSpace(s.CookieName)
	if s.CookieName == "" {
		return errors.New("cookie name must not be empty")
	}
	if strings.ContainsAny(s.CookieName, "=; \t\r\n") {
		return errors.New("cookie name must not contain '=', ';' or whitespace")
	}
	if ip := strings.TrimSpace(s.HostIP); ip != "" && net.ParseIP(ip) == nil {
		return fmt.Errorf("host ip %q is not an IP address", s.HostIP)
	}
	if s.HostPort < 0 || s.HostPort > 65535 {
		return errors.New("host port must be between 0 and 65535")
	}
	if s.MaxHeaderSizeBytes <= 0 {
		return errors.New("max header size must be > 0")
	}
	if s.MaxBodySizeBytes < 0 {
		return errors.New("max body size must be >= 0")
	}
	if s.BufferSizeBytes <= 0 {
		return errors.New("buffer size must be > 0")
	}
	if s.ChallengeTimeMS < 0 {
		return errors.New("challenge time must be >= 0")
	}
	if s.CookieExpireTimeMinutes <= 0 {
		return errors.New("cookie expire time must be > 0")
	}
	if s.IdleTimeout < 0 {
		return errors.New("idle timeout must be >= 0")
	}
	if s.MaxConnections < 0 {
		return errors.New("max connections must be >= 0")
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log level must be one of: debug, info, warn, error")
	}
	s.LogFormat = strings.ToLower(strings.TrimSpace(s.LogFormat))
	switch s.LogFormat {
	case "text", "json":
	default:
		return errors.New("log format must be one of: text, json")
	}
	return validateRoutes(s.Routes)
}

func validateRoutes(routes domain.Routes) error {
	if _, ok := routes[domain.DefaultRouteKey]; !ok {
		return fmt.Errorf("routes must define a %q entry", domain.DefaultRouteKey)
	}
	for key, addr := range routes {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("route %q: invalid backend address %q: %w", key, addr, err)
		}
		if host == "" {
			return fmt.Errorf("route %q: backend address %q has no host", key, addr)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("route %q: backend port must be between 1 and 65535", key)
		}
	}
	return nil
}

func readOrBootstrap(path string) (file, error) {
	f := defaultFile()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeFile(path, f); err != nil {
			return f, fmt.Errorf("write default settings: %w", err)
		}
		return f, nil
	} else if err != nil {
		return f, err
	}

	defaults := f.Routes
	f.Routes = nil
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return f, fmt.Errorf("read settings %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return f, fmt.Errorf("read settings %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if !md.IsDefined("routes") {
		f.Routes = defaults
	}
	return f, nil
}

func writeFile(path string, f file) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(out).Encode(f); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func fromFile(f file) (Settings, error) {
	r := f.Raccoon
	s := Settings{
		CookieName:              r.CookieName,
		HostIP:                  r.HostIP,
		HostPort:                r.HostPort,
		MaxHeaderSizeBytes:      r.MaxHeaderSizeBytes,
		MaxBodySizeBytes:        r.MaxBodySizeBytes,
		ChallengeTimeMS:         r.ChallengeTimeMS,
		CookieExpireTimeMinutes: r.CookieExpireTimeMinutes,
		BufferSizeBytes:         r.BufferSizeBytes,
		StaticDir:               r.StaticDir,
		MaxConnections:          r.MaxConnections,
		SessionDBPath:           r.SessionDBPath,
		LogLevel:                r.LogLevel,
		LogFormat:               r.LogFormat,
		DebugListen:             r.DebugListen,
		WAFEnabled:              r.WAFEnabled,
		Routes:                  make(domain.Routes, len(f.Routes)),
	}
	for k, v := range f.Routes {
		s.Routes[k] = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(r.IdleTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return s, fmt.Errorf("idle_timeout: %w", err)
		}
		s.IdleTimeout = d
	}
	return s, nil
}

func applyEnv(s *Settings) error {
	s.CookieName = envOrDefault("RACCOON_COOKIE_NAME", s.CookieName)
	s.HostIP = envOrDefault("RACCOON_HOST_IP", s.HostIP)
	s.HostPort = envIntOrDefault("RACCOON_HOST_PORT", s.HostPort)
	s.MaxHeaderSizeBytes = envIntOrDefault("RACCOON_MAX_HEADER_SIZE_BYTES", s.MaxHeaderSizeBytes)
	s.MaxBodySizeBytes = envInt64OrDefault("RACCOON_MAX_BODY_SIZE_BYTES", s.MaxBodySizeBytes)
	s.ChallengeTimeMS = envIntOrDefault("RACCOON_CHALLENGE_TIME_MS", s.ChallengeTimeMS)
	s.CookieExpireTimeMinutes = envIntOrDefault("RACCOON_COOKIE_EXPIRE_TIME_MINUTES", s.CookieExpireTimeMinutes)
	s.BufferSizeBytes = envIntOrDefault("RACCOON_BUFFER_SIZE_BYTES", s.BufferSizeBytes)
	s.StaticDir = envOrDefault("RACCOON_STATIC_DIR", s.StaticDir)
	s.MaxConnections = envIntOrDefault("RACCOON_MAX_CONNECTIONS", s.MaxConnections)
	s.SessionDBPath = envOrDefault("RACCOON_SESSION_DB_PATH", s.SessionDBPath)
	s.LogLevel = envOrDefault("RACCOON_LOG_LEVEL", s.LogLevel)
	s.LogFormat = envOrDefault("RACCOON_LOG_FORMAT", s.LogFormat)
	s.DebugListen = envOrDefault("RACCOON_DEBUG_LISTEN", s.DebugListen)
	s.WAFEnabled = envBoolOrDefault("RACCOON_WAF_ENABLED", s.WAFEnabled)
	if v := strings.TrimSpace(os.Getenv("RACCOON_IDLE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RACCOON_IDLE_TIMEOUT: %w", err)
		}
		s.IdleTimeout = d
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64OrDefault(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
