// Package config loads the YAML configuration and applies env overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	OTP struct {
		Issuer             string `yaml:"issuer"`
		BackupCodeCount    int    `yaml:"backup_code_count"`
		SessionTTL         string `yaml:"session_ttl"`
		SessionCookieName  string `yaml:"session_cookie_name"`
		RememberTTL        string `yaml:"remember_ttl"`
		RememberCookieName string `yaml:"remember_cookie_name"`

		// MFARequired blocks self-service MFA reset.
		MFARequired bool `yaml:"mfa_required"`
		// ResetAnyMFA lists principal IDs allowed to reset anyone's MFA.
		ResetAnyMFA []string `yaml:"reset_any_mfa"`
	} `yaml:"otp"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
		Submit struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"submit"`
	} `yaml:"rate"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"`                  // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // dev only
		// SMSGatewayDomain turns bare phone numbers into carrier
		// email-gateway addresses (5551234567@txt.example.net).
		SMSGatewayDomain string `yaml:"sms_gateway_domain"`
	} `yaml:"smtp"`

	Security struct {
		// base64(32 bytes); also read from OTPGATE_MASTER_KEY
		MasterKey string `yaml:"master_key"`
	} `yaml:"security"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "otpgate:"
	}
	if c.OTP.Issuer == "" {
		c.OTP.Issuer = "OtpGate"
	}
	if c.OTP.BackupCodeCount == 0 {
		c.OTP.BackupCodeCount = 10
	}
	if c.OTP.SessionTTL == "" {
		c.OTP.SessionTTL = "10m"
	}
	if c.OTP.SessionCookieName == "" {
		c.OTP.SessionCookieName = "otp_sid"
	}
	if c.OTP.RememberTTL == "" {
		c.OTP.RememberTTL = "720h" // 30d
	}
	if c.OTP.RememberCookieName == "" {
		c.OTP.RememberCookieName = "otpgate_remember_me"
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 30
	}
	if c.Rate.Login.Window == "" {
		c.Rate.Login.Window = "1m"
	}
	if c.Rate.Submit.Limit == 0 {
		c.Rate.Submit.Limit = 10
	}
	if c.Rate.Submit.Window == "" {
		c.Rate.Submit.Window = "1m"
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}

	c.applyEnvOverrides()

	// validate string durations
	for _, d := range []string{
		c.Server.ShutdownTimeout,
		c.OTP.SessionTTL,
		c.OTP.RememberTTL,
		c.Rate.Login.Window,
		c.Rate.Submit.Window,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return nil, fmt.Errorf("config: bad duration %q: %w", d, err)
		}
	}
	if c.Storage.Postgres.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime); err != nil {
			return nil, err
		}
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return nil, fmt.Errorf("config: storage.driver postgres requires storage.dsn")
	}

	return &c, nil
}

// Dur parses a duration field already validated by Load.
func Dur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides lets env vars win over the YAML file.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}

	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	if v, ok := getEnvStr("OTP_ISSUER"); ok {
		c.OTP.Issuer = v
	}
	if v, ok := getEnvInt("OTP_BACKUP_CODE_COUNT"); ok {
		c.OTP.BackupCodeCount = v
	}
	if v, ok := getEnvStr("OTP_REMEMBER_TTL"); ok {
		c.OTP.RememberTTL = v
	}
	if v, ok := getEnvBool("OTP_MFA_REQUIRED"); ok {
		c.OTP.MFARequired = v
	}
	if v, ok := getEnvCSV("OTP_RESET_ANY_MFA"); ok {
		c.OTP.ResetAnyMFA = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}

	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMS_GATEWAY_DOMAIN"); ok {
		c.SMTP.SMSGatewayDomain = v
	}

	if v, ok := getEnvStr("OTPGATE_MASTER_KEY"); ok {
		c.Security.MasterKey = v
	}
}
