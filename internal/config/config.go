package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds runtime configuration loaded from config.yaml and SPC_* environment variables.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Eval     EvalConfig     `mapstructure:"eval"`
	Mail     MailConfig     `mapstructure:"mail"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"`
	JWTIssuer            string `mapstructure:"jwt_issuer"`
	AccessTTLSeconds     int64  `mapstructure:"access_ttl_seconds"`
	RefreshTTLSeconds    int64  `mapstructure:"refresh_ttl_seconds"`
	ActivationTTLSeconds int64  `mapstructure:"activation_ttl_seconds"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CorsOrigins []string `mapstructure:"cors_origins"`
	SiteURL     string   `mapstructure:"site_url"`
	ServeMedia  bool     `mapstructure:"serve_media"`
}

// StorageConfig locates the upload, media and reference directories.
type StorageConfig struct {
	UploadDir    string `mapstructure:"upload_dir"`
	MediaDir     string `mapstructure:"media_dir"`
	ReferenceDir string `mapstructure:"reference_dir"`
}

type UploadConfig struct {
	MaxBytes   int64 `mapstructure:"max_bytes"`
	DailyQuota int   `mapstructure:"daily_quota"`
}

// EvalConfig configures the batch evaluation driver.
type EvalConfig struct {
	EntryTimeout time.Duration `mapstructure:"entry_timeout"`
	FrameWorkers int           `mapstructure:"frame_workers"`
	LPIPSURL     string        `mapstructure:"lpips_url"`
	SampleFrames []string      `mapstructure:"sample_frames"`
	SampleWidth  int           `mapstructure:"sample_width"`
	Interval     time.Duration `mapstructure:"interval"`
}

type MailConfig struct {
	SMTPAddr string `mapstructure:"smtp_addr"`
	From     string `mapstructure:"from"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type MetricsConfig struct {
	DiskPath      string `mapstructure:"disk_path"`
	SampleSeconds int    `mapstructure:"sample_seconds"`
}

type LogConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "spcbench")
	v.SetDefault("auth.access_ttl_seconds", 14400)
	v.SetDefault("auth.refresh_ttl_seconds", 1209600)
	v.SetDefault("auth.activation_ttl_seconds", 259200)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.site_url", "http://localhost:8080")
	v.SetDefault("server.serve_media", true)
	v.SetDefault("storage.upload_dir", "storage/uploads")
	v.SetDefault("storage.media_dir", "storage/media")
	v.SetDefault("storage.reference_dir", "storage/reference")
	v.SetDefault("upload.max_bytes", 50*1024*1024)
	v.SetDefault("upload.daily_quota", 5)
	v.SetDefault("eval.entry_timeout", 30*time.Minute)
	v.SetDefault("eval.frame_workers", 4)
	v.SetDefault("eval.lpips_url", "")
	v.SetDefault("eval.sample_frames", []string{})
	v.SetDefault("eval.sample_width", 256)
	v.SetDefault("eval.interval", time.Duration(0))
	v.SetDefault("mail.smtp_addr", "")
	v.SetDefault("mail.from", "noreply@localhost")
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("metrics.disk_path", "storage")
	v.SetDefault("metrics.sample_seconds", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.dir", "storage/logs")
	v.SetDefault("log.retention_days", 7)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Server.CorsOrigins = cleanList(cfg.Server.CorsOrigins)
	cfg.Eval.SampleFrames = cleanList(cfg.Eval.SampleFrames)
	return &cfg, nil
}

// Validate checks the settings every command that touches the database needs.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return eris.New("config: database.url is required")
	}
	return nil
}

// RequireSecret is checked by the HTTP server only; batch commands never sign tokens.
func (c *Config) RequireSecret() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return eris.New("config: auth.jwt_secret is required")
	}
	return nil
}

// cleanList trims entries and splits comma separated values coming from env vars.
func cleanList(raw []string) []string {
	items := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			value := strings.TrimSpace(part)
			if value != "" {
				items = append(items, value)
			}
		}
	}
	return items
}
