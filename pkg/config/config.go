package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Points   PointsConfig
	Grades   GradesConfig
	SMS      SMSConfig
	Uploads  UploadsConfig
	Exports  ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PointsConfig holds the point economy rules. The values are loaded once at
// startup and injected into the services; nothing mutates them afterwards.
type PointsConfig struct {
	RegisterBonus  int64
	UploadBonus    int64
	DownloadCost   int64
	SignInBonus    int64
	DownloadReward int64
	MinBounty      int64
	BountyTTL      time.Duration
}

// GradesConfig governs the yearly grade progression window.
type GradesConfig struct {
	UpgradeMonth time.Month
	UpgradeDay   int
}

// SMSConfig controls verification code issuance.
type SMSConfig struct {
	CodeTTL        time.Duration
	DispatchQueued bool
}

// UploadsConfig controls resource file storage. APIPrefix mirrors the
// router's prefix so issued download links resolve against the mounted
// file route.
type UploadsConfig struct {
	StorageDir       string
	MaxFileSizeBytes int64
	AllowedTypes     []string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	APIPrefix        string
}

// ExportsConfig controls admin statement exports.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 720*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Points = PointsConfig{
		RegisterBonus:  v.GetInt64("POINTS_REGISTER_BONUS"),
		UploadBonus:    v.GetInt64("POINTS_UPLOAD_BONUS"),
		DownloadCost:   v.GetInt64("POINTS_DOWNLOAD_COST"),
		SignInBonus:    v.GetInt64("POINTS_SIGNIN_BONUS"),
		DownloadReward: v.GetInt64("POINTS_DOWNLOAD_REWARD"),
		MinBounty:      v.GetInt64("POINTS_MIN_BOUNTY"),
		BountyTTL:      parseDuration(v.GetString("BOUNTY_TTL"), 7*24*time.Hour),
	}

	cfg.Grades = GradesConfig{
		UpgradeMonth: time.Month(v.GetInt("GRADE_UPGRADE_MONTH")),
		UpgradeDay:   v.GetInt("GRADE_UPGRADE_DAY"),
	}

	cfg.SMS = SMSConfig{
		CodeTTL:        parseDuration(v.GetString("SMS_CODE_TTL"), 5*time.Minute),
		DispatchQueued: v.GetBool("SMS_DISPATCH_QUEUED"),
	}

	maxUploadSize := v.GetInt64("UPLOADS_MAX_FILE_SIZE")
	if maxUploadSize <= 0 {
		maxUploadSize = 50 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		StorageDir:       v.GetString("UPLOADS_STORAGE_DIR"),
		MaxFileSizeBytes: maxUploadSize,
		AllowedTypes:     splitAndTrim(v.GetString("UPLOADS_ALLOWED_TYPES")),
		SignedURLSecret:  v.GetString("UPLOADS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("UPLOADS_SIGNED_URL_TTL"), 30*time.Minute),
		APIPrefix:        cfg.APIPrefix,
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "paperclip")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "720h")
	v.SetDefault("JWT_ISSUER", "paperclip-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("POINTS_REGISTER_BONUS", 100)
	v.SetDefault("POINTS_UPLOAD_BONUS", 20)
	v.SetDefault("POINTS_DOWNLOAD_COST", 10)
	v.SetDefault("POINTS_SIGNIN_BONUS", 5)
	v.SetDefault("POINTS_DOWNLOAD_REWARD", 2)
	v.SetDefault("POINTS_MIN_BOUNTY", 50)
	v.SetDefault("BOUNTY_TTL", "168h")

	v.SetDefault("GRADE_UPGRADE_MONTH", 7)
	v.SetDefault("GRADE_UPGRADE_DAY", 1)

	v.SetDefault("SMS_CODE_TTL", "5m")
	v.SetDefault("SMS_DISPATCH_QUEUED", true)

	v.SetDefault("UPLOADS_STORAGE_DIR", "./uploads")
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 50*1024*1024)
	v.SetDefault("UPLOADS_ALLOWED_TYPES", "pdf,doc,docx,ppt,pptx,xls,xlsx,jpg,jpeg,png")
	v.SetDefault("UPLOADS_SIGNED_URL_SECRET", "dev_uploads_secret")
	v.SetDefault("UPLOADS_SIGNED_URL_TTL", "30m")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
