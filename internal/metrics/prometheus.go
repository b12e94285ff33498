package metrics

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "kbsync"

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// unboundedDimensions grow a new series per value and are not exported as labels.
var unboundedDimensions = map[string]bool{
	"JobId": true,
}

// PrometheusSink exposes the latest value of every datum as a gauge.
// Datums with bounded dimensions become gauge vectors labelled by dimension
// name. A per-job datum collapses into one gauge holding the last value sent.
type PrometheusSink struct {
	registry *prometheus.Registry

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec
}

// NewPrometheusSink creates a sink that registers gauges on registry.
func NewPrometheusSink(registry *prometheus.Registry) *PrometheusSink {
	return &PrometheusSink{
		registry: registry,
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

// Registry returns the registry the gauges are registered on.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Send sets one gauge per datum.
func (s *PrometheusSink) Send(_ context.Context, datums []Datum) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range datums {
		labels := make([]string, 0, len(d.Dimensions))
		values := make(prometheus.Labels, len(d.Dimensions))
		for k, v := range d.Dimensions {
			if unboundedDimensions[k] {
				continue
			}
			labels = append(labels, promLabel(k))
			values[promLabel(k)] = v
		}

		gauge, err := s.gauge(d.Name, d.Unit, labels)
		if err != nil {
			return err
		}
		gauge.With(values).Set(d.Value)
	}
	return nil
}

// gauge returns the gauge vector for a metric, registering it on first use.
// Caller must hold s.mu.
func (s *PrometheusSink) gauge(name string, unit Unit, labels []string) (*prometheus.GaugeVec, error) {
	fqName := prometheus.BuildFQName(promNamespace, "", promName(name, unit))
	if g, ok := s.gauges[fqName]; ok {
		return g, nil
	}

	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: fqName,
		Help: "Last reported value of " + name + ".",
	}, labels)
	if err := s.registry.Register(g); err != nil {
		return nil, err
	}
	s.gauges[fqName] = g
	return g, nil
}

// promName converts a CamelCase metric name to snake_case with a unit suffix.
func promName(name string, unit Unit) string {
	snake := strings.ToLower(camelBoundary.ReplaceAllString(name, "${1}_${2}"))
	switch unit {
	case UnitMilliseconds:
		return snake + "_milliseconds"
	case UnitPercent:
		return snake + "_percent"
	default:
		return snake
	}
}

func promLabel(dimension string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(dimension, "${1}_${2}"))
}
