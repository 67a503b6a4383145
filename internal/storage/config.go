package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/fileloader-io/fileloader/internal/config"
)

const (
	defaultMaxOpenConns   = 25
	defaultMaxIdleConns   = 5
	defaultConnMaxLife    = 30 * time.Minute
	defaultConnMaxIdle    = 10 * time.Minute
	defaultAcquireTimeout = 30 * time.Second
)

// ErrDatabaseURLEmpty is returned when the database url is an empty string.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds database connection configuration with production-ready defaults.
type Config struct {
	databaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// AcquireTimeout bounds the initial connectivity probe and is the only
	// enforced timeout; individual statements rely on driver timeouts.
	AcquireTimeout time.Duration
}

// LoadConfig loads database configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""), // databaseURL is private for obvious reasons.
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLife),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdle),
		AcquireTimeout:  config.GetEnvDuration("DATABASE_ACQUIRE_TIMEOUT", defaultAcquireTimeout),
	}
}

// NewConfig builds a Config around an explicit connection string, keeping
// the defaults for every pool setting. Intended for tests.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLife,
		ConnMaxIdleTime: defaultConnMaxIdle,
		AcquireTimeout:  defaultAcquireTimeout,
	}
}

// Validate checks that the configuration is complete and names a supported
// database.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if _, err := ParseDialect(c.databaseURL); err != nil {
		return err
	}

	return nil
}

// Dialect returns the dialect selected by the configured URL scheme.
func (c *Config) Dialect() (Dialect, error) {
	return ParseDialect(c.databaseURL)
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	// Find the scheme separator
	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	// Find the last @ which separates userinfo from host
	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		// No @ found, no userinfo
		return c.databaseURL
	}

	// Extract userinfo
	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		// No password
		return c.databaseURL
	}

	// Found username:password
	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		// Empty password, don't mask
		return c.databaseURL
	}

	// Build masked URL
	scheme := c.databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
