package app

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/config"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
)

// Config holds the service configuration loaded from environment
// variables, .env files and defaults.
type Config struct {
	// Mapping tables
	MappingFile string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Efecte API
	EfecteBaseURL  string
	EfecteUsername string
	EfectePassword string

	// iLOQ API
	ILoqBaseURL string

	// iLOQ credentials per customer code: CODE:user:pass,CODE:user:pass
	ILoqCredentials string

	// HTTP server
	ListenAddr string

	// Scheduling
	SyncToILoqInterval   time.Duration
	SyncToEfecteInterval time.Duration

	// Leader election
	LeaderElectorURL string
	PodName          string

	// Audit
	AuditTTL time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from the environment, .env files included.
func LoadConfig() (*Config, error) {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("mapping_file", "mappings.yaml")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("sync_to_iloq_interval", 5*time.Minute)
	v.SetDefault("sync_to_efecte_interval", 15*time.Minute)
	v.SetDefault("audit_ttl", 30*24*time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "auto")
	v.SetDefault("pod_name", os.Getenv("HOSTNAME"))

	cfg := &Config{
		MappingFile:          v.GetString("mapping_file"),
		RedisAddr:            v.GetString("redis_addr"),
		RedisPassword:        v.GetString("redis_password"),
		RedisDB:              v.GetInt("redis_db"),
		EfecteBaseURL:        v.GetString("efecte_base_url"),
		EfecteUsername:       v.GetString("efecte_username"),
		EfectePassword:       v.GetString("efecte_password"),
		ILoqBaseURL:          v.GetString("iloq_base_url"),
		ILoqCredentials:      v.GetString("iloq_credentials"),
		ListenAddr:           v.GetString("listen_addr"),
		SyncToILoqInterval:   v.GetDuration("sync_to_iloq_interval"),
		SyncToEfecteInterval: v.GetDuration("sync_to_efecte_interval"),
		LeaderElectorURL:     v.GetString("leader_elector_url"),
		PodName:              v.GetString("pod_name"),
		AuditTTL:             v.GetDuration("audit_ttl"),
		LogLevel:             v.GetString("log_level"),
		LogFormat:            v.GetString("log_format"),
	}

	return cfg, nil
}

// ParseILoqCredentials parses the CODE:user:pass[,CODE:user:pass...] form
// of the iLOQ credentials variable.
func ParseILoqCredentials(raw string) ([]config.Credentials, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var creds []config.Credentials
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, errors.NewConfigError("credentials",
				"malformed iLOQ credentials entry, want CODE:user:pass", nil)
		}
		creds = append(creds, config.Credentials{
			CustomerCode: parts[0],
			Username:     parts[1],
			Password:     parts[2],
		})
	}
	return creds, nil
}
