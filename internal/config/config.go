package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"sitehost/backend/internal/domains"
)

// LoginLockoutTier locks an account for LockDuration once Failures is reached.
type LoginLockoutTier struct {
	Failures     int
	LockDuration time.Duration
}

// RateLimit is a request budget per client over Window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// Config captures runtime configuration for the backend service.
type Config struct {
	DataDir     string
	Port        int
	PublicDir   string
	MainSiteURL string
	DomainsFile string
	Domains     domains.Config
	JWTSecret   []byte
	TokenTTL    time.Duration

	StoreBackend    string
	DatabaseURL     string
	SlugPolicy      string
	NameMaxAttempts int
	AdminUsernames  []string

	SanitizeHTML        bool
	MaxUploadBytes      int64
	MaxRequestBodyBytes int64
	MaxHeaderBytes      int
	IdleTimeout         time.Duration
	CORSOrigins         []string
	CSRFEnabled         bool
	CSRFTokenTTL        time.Duration

	AuthRateLimit     RateLimit
	UploadRateLimit   RateLimit
	GeneralRateLimit  RateLimit
	LoginLockTiers    []LoginLockoutTier
	LoginFailureReset time.Duration

	DNSRecordTarget string
	DNSRecordTTL    int

	VerifyEnabled          bool
	VerifyInterval         time.Duration
	VerifyResolver         string
	VerifyTimeout          time.Duration
	VerifyHTTPProbe        bool
	VerifyFailureThreshold int

	ACMEEnabled     bool
	ACMEDirectory   string
	ACMEEmail       string
	ACMERetryAfter  time.Duration
	ACMELockTTL     time.Duration
	ACMERenewBefore time.Duration
	ACMEMaxPerCycle int
	ACMEInterval    time.Duration
	TLSPort         int

	BackupEnabled   bool
	BackupInterval  time.Duration
	BackupRetention int
	MegaUsername    string
	MegaPassword    string
	MegaFolder      string
}

// Load reads configuration values from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := getEnvDefault("DATA_DIR", "./data")
	if dataDir == "" {
		return nil, fmt.Errorf("DATA_DIR must be provided")
	}

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	domainsFile := os.Getenv("DOMAINS_FILE")
	domainCfg, err := domains.LoadConfig(domainsFile)
	if err != nil {
		return nil, fmt.Errorf("invalid DOMAINS_FILE: %w", err)
	}

	jwtSecret, err := loadJWTSecret(dataDir)
	if err != nil {
		return nil, err
	}

	storeBackend := strings.ToLower(getEnvDefault("STORE_BACKEND", "file"))
	databaseURL := os.Getenv("DATABASE_URL")
	switch storeBackend {
	case "file", "memory":
	case "postgres":
		if databaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be provided when STORE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", storeBackend)
	}

	nameAttempts, err := getEnvInt("NAME_MAX_ATTEMPTS", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid NAME_MAX_ATTEMPTS: %w", err)
	}
	sanitizeHTML, err := getEnvBool("SANITIZE_HTML", false)
	if err != nil {
		return nil, fmt.Errorf("invalid SANITIZE_HTML: %w", err)
	}
	maxUploadBytes, err := getEnvInt64("MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
	}
	maxRequestBodyBytes, err := getEnvInt64("API_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, fmt.Errorf("invalid API_MAX_BODY_BYTES: %w", err)
	}
	maxHeaderBytes, err := getEnvInt("API_MAX_HEADER_BYTES", 16384)
	if err != nil {
		return nil, fmt.Errorf("invalid API_MAX_HEADER_BYTES: %w", err)
	}
	idleTimeoutSeconds, err := getEnvInt("API_IDLE_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, fmt.Errorf("invalid API_IDLE_TIMEOUT_SECONDS: %w", err)
	}
	csrfEnabled, err := getEnvBool("CSRF_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("invalid CSRF_ENABLED: %w", err)
	}
	tokenTTL, err := getEnvDuration("JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	csrfTTL, err := getEnvDuration("CSRF_TOKEN_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid CSRF_TOKEN_TTL: %w", err)
	}

	authLimit, err := getEnvRate("AUTH_RATE_LIMIT", RateLimit{Requests: 5, Window: 15 * time.Minute})
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_RATE_LIMIT: %w", err)
	}
	uploadLimit, err := getEnvRate("UPLOAD_RATE_LIMIT", RateLimit{Requests: 10, Window: time.Minute})
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_RATE_LIMIT: %w", err)
	}
	generalLimit, err := getEnvRate("API_RATE_LIMIT", RateLimit{Requests: 100, Window: 15 * time.Minute})
	if err != nil {
		return nil, fmt.Errorf("invalid API_RATE_LIMIT: %w", err)
	}
	loginLockTiers, err := parseLockoutTiers(os.Getenv("LOGIN_LOCK_TIERS"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOGIN_LOCK_TIERS: %w", err)
	}
	loginFailureResetSeconds, err := getEnvInt("LOGIN_FAILURE_RESET_SECONDS", 86400)
	if err != nil {
		return nil, fmt.Errorf("invalid LOGIN_FAILURE_RESET_SECONDS: %w", err)
	}

	dnsTTL, err := getEnvInt("DNS_RECORD_TTL", 300)
	if err != nil {
		return nil, fmt.Errorf("invalid DNS_RECORD_TTL: %w", err)
	}

	verifyEnabled, err := getEnvBool("DOMAIN_VERIFY_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("invalid DOMAIN_VERIFY_ENABLED: %w", err)
	}
	verifyInterval, err := getEnvDuration("DOMAIN_VERIFY_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid DOMAIN_VERIFY_INTERVAL: %w", err)
	}
	verifyTimeout, err := getEnvDuration("DOMAIN_VERIFY_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid DOMAIN_VERIFY_TIMEOUT: %w", err)
	}
	verifyHTTP, err := getEnvBool("DOMAIN_VERIFY_HTTP", true)
	if err != nil {
		return nil, fmt.Errorf("invalid DOMAIN_VERIFY_HTTP: %w", err)
	}
	verifyThreshold, err := getEnvInt("DOMAIN_VERIFY_FAILURE_THRESHOLD", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid DOMAIN_VERIFY_FAILURE_THRESHOLD: %w", err)
	}

	acmeEnabled, err := getEnvBool("SSL_ACME_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("invalid SSL_ACME_ENABLED: %w", err)
	}
	acmeDirectory := getEnvDefault("SSL_ACME_DIRECTORY", "https://acme-v02.api.letsencrypt.org/directory")
	acmeEmail := os.Getenv("SSL_ACME_EMAIL")
	acmeRetrySeconds, err := getEnvInt("SSL_ACME_RETRY_SECONDS", 900)
	if err != nil {
		return nil, fmt.Errorf("invalid SSL_ACME_RETRY_SECONDS: %w", err)
	}
	acmeLockSeconds, err := getEnvInt("SSL_ACME_LOCK_TTL_SECONDS", 600)
	if err != nil {
		return nil, fmt.Errorf("invalid SSL_ACME_LOCK_TTL_SECONDS: %w", err)
	}
	acmeRenewDays, err := getEnvInt("SSL_ACME_RENEW_BEFORE_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("invalid SSL_ACME_RENEW_BEFORE_DAYS: %w", err)
	}
	acmeMaxPerCycle, err := getEnvInt("SSL_ACME_MAX_PER_CYCLE", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid SSL_ACME_MAX_PER_CYCLE: %w", err)
	}
	acmeInterval, err := getEnvDuration("SSL_ACME_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SSL_ACME_INTERVAL: %w", err)
	}
	tlsPort, err := getEnvInt("TLS_PORT", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid TLS_PORT: %w", err)
	}

	backupEnabled, err := getEnvBool("BACKUP_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("invalid BACKUP_ENABLED: %w", err)
	}
	backupInterval, err := getEnvDuration("BACKUP_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid BACKUP_INTERVAL: %w", err)
	}
	backupRetention, err := getEnvInt("BACKUP_RETENTION", 14)
	if err != nil {
		return nil, fmt.Errorf("invalid BACKUP_RETENTION: %w", err)
	}

	return &Config{
		DataDir:                dataDir,
		Port:                   port,
		PublicDir:              getEnvDefault("PUBLIC_DIR", "./public"),
		MainSiteURL:            getEnvDefault("MAIN_SITE_URL", "https://"+domainCfg.Primary),
		DomainsFile:            domainsFile,
		Domains:                domainCfg,
		JWTSecret:              jwtSecret,
		TokenTTL:               tokenTTL,
		StoreBackend:           storeBackend,
		DatabaseURL:            databaseURL,
		SlugPolicy:             getEnvDefault("SLUG_POLICY", "global"),
		NameMaxAttempts:        nameAttempts,
		AdminUsernames:         splitList(strings.ToLower(os.Getenv("ADMIN_USERNAMES"))),
		SanitizeHTML:           sanitizeHTML,
		MaxUploadBytes:         maxUploadBytes,
		MaxRequestBodyBytes:    maxRequestBodyBytes,
		MaxHeaderBytes:         maxHeaderBytes,
		IdleTimeout:            time.Duration(idleTimeoutSeconds) * time.Second,
		CORSOrigins:            splitList(getEnvDefault("CORS_ORIGINS", "http://*,https://*")),
		CSRFEnabled:            csrfEnabled,
		CSRFTokenTTL:           csrfTTL,
		AuthRateLimit:          authLimit,
		UploadRateLimit:        uploadLimit,
		GeneralRateLimit:       generalLimit,
		LoginLockTiers:         loginLockTiers,
		LoginFailureReset:      time.Duration(loginFailureResetSeconds) * time.Second,
		DNSRecordTarget:        getEnvDefault("DNS_RECORD_TARGET", domainCfg.Primary),
		DNSRecordTTL:           dnsTTL,
		VerifyEnabled:          verifyEnabled,
		VerifyInterval:         verifyInterval,
		VerifyResolver:         getEnvDefault("DOMAIN_VERIFY_RESOLVER", "1.1.1.1:53"),
		VerifyTimeout:          verifyTimeout,
		VerifyHTTPProbe:        verifyHTTP,
		VerifyFailureThreshold: verifyThreshold,
		ACMEEnabled:            acmeEnabled,
		ACMEDirectory:          acmeDirectory,
		ACMEEmail:              acmeEmail,
		ACMERetryAfter:         time.Duration(acmeRetrySeconds) * time.Second,
		ACMELockTTL:            time.Duration(acmeLockSeconds) * time.Second,
		ACMERenewBefore:        time.Duration(acmeRenewDays) * 24 * time.Hour,
		ACMEMaxPerCycle:        acmeMaxPerCycle,
		ACMEInterval:           acmeInterval,
		TLSPort:                tlsPort,
		BackupEnabled:          backupEnabled,
		BackupInterval:         backupInterval,
		BackupRetention:        backupRetention,
		MegaUsername:           os.Getenv("MEGA_USERNAME"),
		MegaPassword:           os.Getenv("MEGA_PASSWORD"),
		MegaFolder:             getEnvDefault("MEGA_FOLDER", "sitehost/backups"),
	}, nil
}

// LockDuration returns the lock for the highest tier reached by failures.
func (c *Config) LockDuration(failures int) time.Duration {
	var d time.Duration
	for _, tier := range c.LoginLockTiers {
		if failures >= tier.Failures {
			d = tier.LockDuration
		}
	}
	return d
}

func loadJWTSecret(dataDir string) ([]byte, error) {
	if v := strings.TrimSpace(os.Getenv("JWT_SECRET")); v != "" {
		return []byte(v), nil
	}
	jwtSecretFile := getEnvDefault("JWT_SECRET_FILE", fmt.Sprintf("%s/secrets/jwt_secret", dataDir))
	jwtSecret, err := os.ReadFile(jwtSecretFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read JWT secret file: %w", err)
	}
	jwtSecret = bytesTrim(jwtSecret)
	if len(jwtSecret) == 0 {
		return nil, fmt.Errorf("JWT secret file %s is empty", jwtSecretFile)
	}
	return jwtSecret, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func getEnvInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", v)
	}
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", v)
	}
	return d, nil
}

// getEnvRate parses "<requests>/<window>", for example "5/15m".
func getEnvRate(key string, def RateLimit) (RateLimit, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	parts := strings.SplitN(v, "/", 2)
	if len(parts) != 2 {
		return RateLimit{}, fmt.Errorf("expected <requests>/<window>, got %q", v)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n <= 0 {
		return RateLimit{}, fmt.Errorf("invalid request count %q", parts[0])
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil || window <= 0 {
		return RateLimit{}, fmt.Errorf("invalid window %q", parts[1])
	}
	return RateLimit{Requests: n, Window: window}, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func defaultLockoutTiers() []LoginLockoutTier {
	return []LoginLockoutTier{
		{Failures: 5, LockDuration: 30 * time.Second},
		{Failures: 10, LockDuration: 5 * time.Minute},
		{Failures: 20, LockDuration: 30 * time.Minute},
		{Failures: 50, LockDuration: 2 * time.Hour},
	}
}

func parseLockoutTiers(raw string) ([]LoginLockoutTier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultLockoutTiers(), nil
	}
	if strings.EqualFold(raw, "none") {
		return []LoginLockoutTier{}, nil
	}
	parts := strings.Split(raw, ",")
	tiers := make([]LoginLockoutTier, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segments := strings.Split(part, ":")
		if len(segments) != 2 {
			return nil, fmt.Errorf("invalid tier definition %q", part)
		}
		failures, err := strconv.Atoi(strings.TrimSpace(segments[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid tier threshold %q: %w", segments[0], err)
		}
		duration, err := time.ParseDuration(strings.TrimSpace(segments[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid tier duration %q: %w", segments[1], err)
		}
		if failures <= 0 || duration <= 0 {
			continue
		}
		tiers = append(tiers, LoginLockoutTier{Failures: failures, LockDuration: duration})
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].Failures < tiers[j].Failures
	})
	return tiers, nil
}

func bytesTrim(v []byte) []byte {
	for len(v) > 0 {
		switch v[len(v)-1] {
		case '\n', '\r', '\t', ' ':
			v = v[:len(v)-1]
		default:
			return v
		}
	}
	return v
}
