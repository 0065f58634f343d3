package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/subosito/gotenv"
)

const (
	defaultVaultURL        = "https://vault.pranavprem.com"
	defaultListenAddr      = "0.0.0.0:8000"
	defaultDBPath          = "morpheus.db"
	defaultEnvFile         = ".env"
	defaultBWBinary        = "bw"
	defaultCommandTimeout  = 30 * time.Second
	defaultApprovalTimeout = 600 * time.Second
	minAPIKeyLength        = 16
)

// Config holds server configuration loaded from environment variables.
type Config struct {
	APIKey string

	DiscordToken      string
	ApprovalChannelID string
	LogChannelID      string
	ApproverID        string

	VaultURL            string
	VaultEmail          string
	VaultPassword       string
	BWBinary            string
	VaultCommandTimeout time.Duration

	ApprovalTimeout time.Duration

	ListenAddr  string
	DBPath      string
	TraceOutput string
	CORSOrigins []string

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// honoured when resolving the client address. Empty trusts no proxy.
	TrustedProxies []string
}

// LoadConfig loads server configuration from environment variables. A dotenv
// file (MORPHEUS_ENV_FILE, default .env) is read first when present; values
// already set in the environment take precedence over it.
func LoadConfig() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	apiKey := os.Getenv("MORPHEUS_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("MORPHEUS_API_KEY is required")
	}
	if len(apiKey) < minAPIKeyLength {
		return nil, fmt.Errorf("MORPHEUS_API_KEY must be at least %d characters", minAPIKeyLength)
	}

	cfg := &Config{
		APIKey:            apiKey,
		DiscordToken:      os.Getenv("DISCORD_BOT_TOKEN"),
		ApprovalChannelID: strings.TrimSpace(os.Getenv("DISCORD_APPROVAL_CHANNEL_ID")),
		LogChannelID:      strings.TrimSpace(os.Getenv("DISCORD_LOG_CHANNEL_ID")),
		ApproverID:        strings.TrimSpace(os.Getenv("DISCORD_APPROVER_ID")),
		VaultURL:          envOr("VAULTWARDEN_URL", defaultVaultURL),
		VaultEmail:        strings.TrimSpace(os.Getenv("VAULTWARDEN_EMAIL")),
		VaultPassword:     os.Getenv("VAULTWARDEN_MASTER_PASSWORD"),
		BWBinary:          envOr("BW_BINARY", defaultBWBinary),
		ListenAddr:        envOr("MORPHEUS_LISTEN_ADDR", defaultListenAddr),
		DBPath:            envOr("MORPHEUS_DB_PATH", defaultDBPath),
		TraceOutput:       strings.TrimSpace(os.Getenv("MORPHEUS_TRACE_OUTPUT")),
		CORSOrigins:       splitList(os.Getenv("MORPHEUS_CORS_ORIGINS")),
		TrustedProxies:    splitList(os.Getenv("MORPHEUS_TRUSTED_PROXIES")),
	}

	for name, v := range map[string]string{
		"DISCORD_BOT_TOKEN":           cfg.DiscordToken,
		"DISCORD_APPROVER_ID":         cfg.ApproverID,
		"VAULTWARDEN_EMAIL":           cfg.VaultEmail,
		"VAULTWARDEN_MASTER_PASSWORD": cfg.VaultPassword,
	} {
		if v == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	for _, p := range cfg.TrustedProxies {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return nil, fmt.Errorf("MORPHEUS_TRUSTED_PROXIES: %q is not an IP or CIDR", p)
		}
	}

	timeout, err := parseDuration("VAULT_COMMAND_TIMEOUT", defaultCommandTimeout)
	if err != nil {
		return nil, err
	}
	cfg.VaultCommandTimeout = timeout

	cfg.ApprovalTimeout = defaultApprovalTimeout
	if v := strings.TrimSpace(os.Getenv("APPROVAL_TIMEOUT_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("APPROVAL_TIMEOUT_SECONDS must be a positive integer")
		}
		cfg.ApprovalTimeout = time.Duration(n) * time.Second
	}

	return cfg, nil
}

func loadEnvFile() error {
	path := envOr("MORPHEUS_ENV_FILE", defaultEnvFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parseDuration accepts Go durations ("45s") or bare seconds ("45").
func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", key)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
