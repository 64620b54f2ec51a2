package partman

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// cfg collects everything an Opt can set, mirroring the teacher's own
// cfg-struct-plus-functional-options convention (kgo.Opt / cfg in
// metadata.go/txn.go).
type cfg struct {
	logger                 Logger
	definitionsLoadTimeout time.Duration
	registerer             prometheus.Registerer
}

func defaultCfg() cfg {
	return cfg{
		logger:                 nopLogger{},
		definitionsLoadTimeout: 10 * time.Second,
		registerer:             nil, // NewMetrics falls back to prometheus.DefaultRegisterer
	}
}

// Opt configures a Manager at construction time.
type Opt interface {
	apply(*cfg)
}

type optFunc func(*cfg)

func (f optFunc) apply(c *cfg) { f(c) }

// WithLogger sets the Manager's Logger. The default discards all output.
func WithLogger(l Logger) Opt {
	return optFunc(func(c *cfg) { c.logger = l })
}

// WithDefinitionsLoadTimeout bounds the cold-start Definitions Store call
// (spec.md §4.5 step 4, §5). The default is 10s.
func WithDefinitionsLoadTimeout(d time.Duration) Opt {
	return optFunc(func(c *cfg) { c.definitionsLoadTimeout = d })
}

// WithMetricsRegisterer points the Manager's Prometheus collectors at a
// specific registry instead of the global default, the way a multi-tenant
// host process typically wants one registry per component.
func WithMetricsRegisterer(r prometheus.Registerer) Opt {
	return optFunc(func(c *cfg) { c.registerer = r })
}
