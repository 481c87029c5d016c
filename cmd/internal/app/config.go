package app

import (
	"os"
	"path/filepath"
	"time"

	"crm/cmd/internal/auth/guard"
	"crm/cmd/internal/auth/identity"
	"crm/cmd/internal/auth/tokenstore"
	"crm/cmd/internal/stream"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// AllowRemote permits binding the console to a non-loopback address.
	AllowRemote bool

	Identity identity.Config

	// StateDir holds the file and cookie-jar token backends, one pair of files per Profile.
	StateDir string
	Profile  string
	Cookie   tokenstore.CookieConfig

	// DatabaseURL switches the primary token backend to Postgres.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	GuardGrace time.Duration

	// Console-side login throttling; a zero LoginThrottleMax disables the per-address window.
	LoginThrottleWindow time.Duration
	LoginThrottleMax    int
	LoginLockout        bool

	Stream stream.Config

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	idDefaults := identity.DefaultConfig()
	wsDefaults := stream.DefaultConfig()

	cookie := tokenstore.DefaultCookieConfig()
	cookie.Secure = EnvBool("CRM_COOKIE_SECURE", cookie.Secure)
	cookie.SameSite = tokenstore.ParseSameSite(EnvString("CRM_COOKIE_SAMESITE", "strict"))
	cookie.Domain = EnvString("CRM_COOKIE_DOMAIN", "")

	return Config{
		HTTPAddr:  EnvString("CRM_HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:  EnvString("CRM_LOG_LEVEL", "info"),
		LogFormat: EnvString("CRM_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CRM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CRM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CRM_HTTP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       EnvDuration("CRM_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CRM_HTTP_MAX_HEADER_BYTES", 1<<20),

		AllowRemote: EnvBool("CRM_ALLOW_REMOTE", false),

		Identity: identity.Config{
			BaseURL:          EnvString("CRM_IDENTITY_BASE_URL", idDefaults.BaseURL),
			Timeout:          EnvDuration("CRM_IDENTITY_TIMEOUT", idDefaults.Timeout),
			RPS:              EnvFloat("CRM_IDENTITY_RPS", idDefaults.RPS),
			Burst:            EnvInt("CRM_IDENTITY_BURST", idDefaults.Burst),
			MaxResponseBytes: idDefaults.MaxResponseBytes,
			UserAgent:        EnvString("CRM_IDENTITY_USER_AGENT", idDefaults.UserAgent),
		},

		StateDir: EnvString("CRM_STATE_DIR", defaultStateDir()),
		Profile:  EnvString("CRM_PROFILE", "default"),
		Cookie:   cookie,

		DatabaseURL: EnvString("CRM_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("CRM_DB_MAX_CONNS", 4),
		DBMinConns:  EnvInt32("CRM_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("CRM_READINESS_REQUIRE_DB", false),

		GuardGrace: EnvDuration("CRM_GUARD_GRACE", guard.DefaultGrace),

		LoginThrottleWindow: EnvDuration("CRM_LOGIN_THROTTLE_WINDOW", 5*time.Minute),
		LoginThrottleMax:    EnvInt("CRM_LOGIN_THROTTLE_MAX", 10),
		LoginLockout:        EnvBool("CRM_LOGIN_LOCKOUT", true),

		Stream: stream.Config{
			OriginRequired:   EnvBool("CRM_WS_ORIGIN_REQUIRED", wsDefaults.OriginRequired),
			AllowedOrigins:   EnvCSV("CRM_WS_ALLOWED_ORIGINS", wsDefaults.AllowedOrigins),
			WriteTimeout:     EnvDuration("CRM_WS_WRITE_TIMEOUT", wsDefaults.WriteTimeout),
			ReadIdleTimeout:  EnvDuration("CRM_WS_READ_IDLE_TIMEOUT", wsDefaults.ReadIdleTimeout),
			SendQueueSize:    EnvInt("CRM_WS_SEND_QUEUE", wsDefaults.SendQueueSize),
			HeartbeatEvery:   EnvDuration("CRM_WS_HEARTBEAT_INTERVAL", wsDefaults.HeartbeatEvery),
			HeartbeatTimeout: EnvDuration("CRM_WS_HEARTBEAT_TIMEOUT", wsDefaults.HeartbeatTimeout),
			RateEvents:       EnvInt("CRM_WS_RATE_EVENTS", wsDefaults.RateEvents),
			RateWindow:       EnvDuration("CRM_WS_RATE_WINDOW", wsDefaults.RateWindow),
		},

		CORSAllowedOrigins:   EnvCSV("CRM_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("CRM_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CRM_CORS_MAX_AGE_SECONDS", 600),
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "crm")
	}
	return ".crm"
}

// TokenFile is the primary file backend path for the profile.
func (c Config) TokenFile() string {
	return filepath.Join(c.StateDir, c.Profile+".tokens.json")
}

// CookieJarFile is the fallback cookie-jar path for the profile.
func (c Config) CookieJarFile() string {
	return filepath.Join(c.StateDir, c.Profile+".cookies.json")
}
