package platform

import (
	"database/sql"
	"log/slog"

	"github.com/proctorwatch/proctor-platform/pkg/archive"
	"github.com/proctorwatch/proctor-platform/pkg/classify"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// Logger overrides the logger built from config.
	Logger *slog.Logger

	// Classifier overrides the HTTP classifier built from config.
	Classifier classify.Classifier

	// Archive overrides the archive store built from config.
	Archive archive.Store

	// DB is the archive database connection (optional, will be created
	// from config if not provided).
	DB *sql.DB
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = log
	}
}

// WithClassifier sets the frame classifier.
func WithClassifier(c classify.Classifier) Option {
	return func(o *Options) {
		o.Classifier = c
	}
}

// WithArchive sets the results archive.
func WithArchive(store archive.Store) Option {
	return func(o *Options) {
		o.Archive = store
	}
}

// WithDB sets the archive database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}
