package engine

import (
	"log/slog"
	"os"
	"time"

	"github.com/slogtx/optx/address"
)

type config struct {
	logger *slog.Logger

	txLogging       bool
	txStream        address.StreamID
	staleOverlayTTL time.Duration
	gcInterval      time.Duration
}

func defaultConfig() config {
	return config{
		logger:          slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		txStream:        address.StreamIDFromString("_TRANSACTION_STREAM_ID"),
		staleOverlayTTL: 30 * time.Second,
		gcInterval:      5 * time.Second,
	}
}

// Option configures a Runtime.
type Option func(*config)

// WithLogger sets a custom slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithTxLogging mirrors every committed transaction's resolution onto a
// well-known stream (default name "_TRANSACTION_STREAM_ID"), the way a
// CorfuDB client can subscribe to its own commit history.
func WithTxLogging(enabled bool) Option {
	return func(c *config) { c.txLogging = enabled }
}

// WithTxStream overrides the stream transaction-commit records are
// mirrored to when tx logging is enabled.
func WithTxStream(stream address.StreamID) Option {
	return func(c *config) { c.txStream = stream }
}

// WithStaleOverlayTTL sets how long an installed overlay may sit
// unclaimed before Runtime.RunMaintenance (adapted from the teacher's
// gc.go) reclaims it.
func WithStaleOverlayTTL(d time.Duration) Option {
	return func(c *config) { c.staleOverlayTTL = d }
}

// WithMaintenanceInterval sets how often Runtime.RunMaintenance should
// be invoked if the caller wants it to run on its own ticker via
// Runtime.StartMaintenance.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(c *config) { c.gcInterval = d }
}
