// Package storage resolves media keys in S3-compatible object storage to
// time-limited download URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/smazurov/relaycast/internal/config"
	"github.com/smazurov/relaycast/internal/logging"
)

// EnvPrefix is prepended to every Config env tag.
const EnvPrefix = "STORAGE_"

// URLExpiry is the lifetime of a presigned stream URL.
const URLExpiry = 24 * time.Hour

// ErrStorage wraps every object storage failure. Callers treat it as fatal.
var ErrStorage = errors.New("storage error")

// Config holds the provider settings.
type Config struct {
	Endpoint        string `env:"ENDPOINT"`
	Bucket          string `env:"BUCKET"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Region          string `env:"REGION"`
	UseSSL          bool   `env:"USE_SSL"`
}

// DefaultConfig returns a config with the provider defaults filled in.
func DefaultConfig() Config {
	return Config{Region: "auto", UseSSL: true}
}

// ConfigFromEnv reads STORAGE_* variables over the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	config.LoadEnv(&cfg, EnvPrefix)
	return cfg
}

// Validate reports the first missing setting.
func (c Config) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, EnvPrefix+"ENDPOINT")
	}
	if c.Bucket == "" {
		missing = append(missing, EnvPrefix+"BUCKET")
	}
	if c.AccessKeyID == "" {
		missing = append(missing, EnvPrefix+"ACCESS_KEY_ID")
	}
	if c.SecretAccessKey == "" {
		missing = append(missing, EnvPrefix+"SECRET_ACCESS_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrStorage, strings.Join(missing, ", "))
	}
	return nil
}

// Client generates presigned URLs for one bucket.
type Client struct {
	bucket string
	minio  *minio.Client
	logger *slog.Logger
}

// New creates a client. It performs no network I/O.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %w", ErrStorage, err)
	}

	return &Client{
		bucket: cfg.Bucket,
		minio:  mc,
		logger: logging.GetLogger("storage"),
	}, nil
}

// StreamURL returns a presigned GET URL for key, valid for URLExpiry.
func (c *Client) StreamURL(ctx context.Context, key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty media key", ErrStorage)
	}

	u, err := c.minio.PresignedGetObject(ctx, c.bucket, key, URLExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %w", ErrStorage, key, err)
	}

	c.logger.Debug("Presigned stream URL", "key", key, "expires_in", URLExpiry)
	return u.String(), nil
}
