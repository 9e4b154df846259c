package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	JWTSecret              string
	BlobDir                string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	SendGridAPIKey         string
	MailFromName           string
	MailFromEmail          string
	EventChannelBase       string
	MergeTimeout           time.Duration
	DashboardCacheTTL      time.Duration
	StreamKeepAlive        time.Duration
	UploadMaxMB            int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// UploadMaxBytes returns the submission document size limit in bytes.
func (c Config) UploadMaxBytes() int64 {
	return int64(c.UploadMaxMB) << 20
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("COURSEWORK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Coursework API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("blob.dir", "./data/blobs")
	v.SetDefault("cloudinary.folder", "coursework/prompts")
	v.SetDefault("events.channel_base", "coursework:events")
	v.SetDefault("merge.timeout", "30s")
	v.SetDefault("dashboard.cache_ttl", "5m")
	v.SetDefault("stream.keep_alive", "25s")
	v.SetDefault("upload.max_mb", 20)

	mergeTimeout, err := parseDuration(v, "merge.timeout")
	if err != nil {
		return Config{}, fmt.Errorf("invalid merge timeout: %w", err)
	}

	cacheTTL, err := parseDuration(v, "dashboard.cache_ttl")
	if err != nil {
		return Config{}, fmt.Errorf("invalid dashboard cache ttl: %w", err)
	}

	keepAlive, err := parseDuration(v, "stream.keep_alive")
	if err != nil {
		return Config{}, fmt.Errorf("invalid stream keep alive: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		BlobDir:                v.GetString("blob.dir"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		SendGridAPIKey:         v.GetString("sendgrid.api_key"),
		MailFromName:           v.GetString("mail.from_name"),
		MailFromEmail:          v.GetString("mail.from_email"),
		EventChannelBase:       v.GetString("events.channel_base"),
		MergeTimeout:           mergeTimeout,
		DashboardCacheTTL:      cacheTTL,
		StreamKeepAlive:        keepAlive,
		UploadMaxMB:            v.GetInt("upload.max_mb"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.UploadMaxMB <= 0 {
		cfg.UploadMaxMB = 20
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		raw = "0s"
	}
	return time.ParseDuration(raw)
}
