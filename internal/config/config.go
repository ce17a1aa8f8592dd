package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const (
	envPrefix               = "KINDRED"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "kindred.db"
	defaultLogLevel         = "info"
	defaultLogEncoding      = "json"
	defaultTokenTTLMinutes  = 60
	defaultTokenIssuer      = "kindred-auth"
	defaultTokenAudience    = "kindred-api"
	defaultHashCost         = 10
	defaultMongoURI         = "mongodb://localhost:27017/kindred"
	defaultMongoTimeoutSecs = 10
	defaultPhotosDir        = "uploads"
	defaultPhotosPublicPath = "/uploads"
	defaultPhotosMaxFiles   = 5
	defaultPhotosMaxBytes   = 5 << 20

	// StoreDriverSQLite keeps identities in a local sqlite file through gorm.
	StoreDriverSQLite = "sqlite"
	// StoreDriverMongo keeps identities in MongoDB collections.
	StoreDriverMongo = "mongo"
	// PhotoDriverLocal writes uploaded photos to the local filesystem.
	PhotoDriverLocal = "local"
	// PhotoDriverMinio writes uploaded photos to a MinIO/S3 bucket.
	PhotoDriverMinio = "minio"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	LogEncoding string

	SigningSecret string
	TokenTTL      time.Duration
	TokenIssuer   string
	TokenAudience string

	HashCost        int
	HashConcurrency int

	StoreDriver  string
	DatabasePath string
	MongoURI     string
	MongoTimeout time.Duration

	Photos PhotoConfig

	CORSAllowedOrigins       []string
	AdminRegistrationEnabled bool
}

// PhotoConfig describes where uploaded photos are kept and how many are accepted.
type PhotoConfig struct {
	Driver        string
	Directory     string
	PublicPath    string
	MaxFiles      int
	MaxBytes      int64
	MinioEndpoint string
	MinioAccess   string
	MinioSecret   string
	MinioBucket   string
	PublicBaseURL string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("token.issuer", defaultTokenIssuer)
	configViper.SetDefault("token.audience", defaultTokenAudience)
	configViper.SetDefault("hash.cost", defaultHashCost)
	configViper.SetDefault("hash.concurrency", 0)
	configViper.SetDefault("store.driver", StoreDriverSQLite)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("mongo.uri", defaultMongoURI)
	configViper.SetDefault("mongo.timeout_seconds", defaultMongoTimeoutSecs)
	configViper.SetDefault("photos.driver", PhotoDriverLocal)
	configViper.SetDefault("photos.dir", defaultPhotosDir)
	configViper.SetDefault("photos.public_path", defaultPhotosPublicPath)
	configViper.SetDefault("photos.max_files", defaultPhotosMaxFiles)
	configViper.SetDefault("photos.max_bytes", defaultPhotosMaxBytes)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("admin.registration_enabled", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		LogLevel:        configViper.GetString("log.level"),
		LogEncoding:     configViper.GetString("log.encoding"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		TokenIssuer:     strings.TrimSpace(configViper.GetString("token.issuer")),
		TokenAudience:   strings.TrimSpace(configViper.GetString("token.audience")),
		HashCost:        configViper.GetInt("hash.cost"),
		HashConcurrency: configViper.GetInt("hash.concurrency"),
		StoreDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		DatabasePath:    configViper.GetString("database.path"),
		MongoURI:        strings.TrimSpace(configViper.GetString("mongo.uri")),
		MongoTimeout:    time.Duration(configViper.GetInt("mongo.timeout_seconds")) * time.Second,
		Photos: PhotoConfig{
			Driver:        strings.ToLower(strings.TrimSpace(configViper.GetString("photos.driver"))),
			Directory:     configViper.GetString("photos.dir"),
			PublicPath:    configViper.GetString("photos.public_path"),
			MaxFiles:      configViper.GetInt("photos.max_files"),
			MaxBytes:      configViper.GetInt64("photos.max_bytes"),
			MinioEndpoint: strings.TrimSpace(configViper.GetString("minio.endpoint")),
			MinioAccess:   configViper.GetString("minio.access_key"),
			MinioSecret:   configViper.GetString("minio.secret_key"),
			MinioBucket:   strings.TrimSpace(configViper.GetString("minio.bucket")),
			PublicBaseURL: strings.TrimSpace(configViper.GetString("minio.public_base_url")),
		},
		CORSAllowedOrigins:       configViper.GetStringSlice("cors.allowed_origins"),
		AdminRegistrationEnabled: configViper.GetBool("admin.registration_enabled"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.TokenIssuer == "" || c.TokenAudience == "" {
		return fmt.Errorf("token.issuer and token.audience are required")
	}
	if c.HashCost < defaultHashCost || c.HashCost > bcrypt.MaxCost {
		return fmt.Errorf("hash.cost must be between %d and %d", defaultHashCost, bcrypt.MaxCost)
	}
	if c.HashConcurrency < 0 {
		return fmt.Errorf("hash.concurrency must not be negative")
	}

	switch c.StoreDriver {
	case StoreDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case StoreDriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("mongo.uri is required")
		}
		if c.MongoTimeout <= 0 {
			return fmt.Errorf("mongo.timeout_seconds must be positive")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.StoreDriver)
	}

	if c.Photos.MaxFiles <= 0 {
		return fmt.Errorf("photos.max_files must be positive")
	}
	if c.Photos.MaxBytes <= 0 {
		return fmt.Errorf("photos.max_bytes must be positive")
	}
	switch c.Photos.Driver {
	case PhotoDriverLocal:
		if strings.TrimSpace(c.Photos.Directory) == "" {
			return fmt.Errorf("photos.dir is required")
		}
		if !strings.HasPrefix(c.Photos.PublicPath, "/") {
			return fmt.Errorf("photos.public_path must start with /")
		}
	case PhotoDriverMinio:
		if c.Photos.MinioEndpoint == "" || c.Photos.MinioBucket == "" {
			return fmt.Errorf("minio.endpoint and minio.bucket are required")
		}
	default:
		return fmt.Errorf("photos.driver %q is not supported", c.Photos.Driver)
	}

	return nil
}
