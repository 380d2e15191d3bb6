package services

import (
	"time"

	"github.com/assetdesk/backend/internal/metrics"
)

type options struct {
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures any service of this package.
type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
