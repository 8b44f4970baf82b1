package server

import (
	"errors"
	"time"

	"github.com/malbeclabs/bounty/api/handlers"
	"golang.org/x/time/rate"
)

const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultRequestTimeout    = 60 * time.Second

	// 30 allocation requests per minute per IP with a burst of 5.
	DefaultRateLimit = rate.Limit(30.0 / 60.0)
	DefaultRateBurst = 5
)

type Config struct {
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	AllowedOrigins    []string
	RateLimit         rate.Limit
	RateBurst         int
	VersionInfo       handlers.VersionInfo
	HandlersConfig    handlers.Config
}

func (cfg *Config) Validate() error {
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	if err := cfg.HandlersConfig.Validate(); err != nil {
		return err
	}
	return nil
}
