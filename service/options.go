package service

import (
	"log/slog"
	"time"

	"github.com/0xfutbol/id/core"
)

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	product string
}

// Option configures a service.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithProduct sets the product name rendered into the auth message.
func WithProduct(product string) Option {
	return func(o *options) { o.product = product }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		now:     time.Now,
		product: core.DefaultProduct,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
