// Package gateway is the uniform query facade over external alert sources.
// Each configured source is queried independently and in parallel; a source
// error or timeout yields zero alerts from that source plus a recorded
// failure, never invented data.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// EvidenceSource is one external alert provider (network flow, EDR, SIEM).
type EvidenceSource interface {
	// Name identifies the source in factors and logs.
	Name() string

	// FetchAlerts returns the raw alerts this source holds for the target.
	// Implementations must honor ctx cancellation.
	FetchAlerts(ctx context.Context, target string) ([]types.RawAlert, error)
}

// SourceConfig holds source connection settings.
type SourceConfig struct {
	Endpoint string
	Region   string
	Window   time.Duration
}

// SourceFactory creates a source instance.
type SourceFactory func(config SourceConfig) (EvidenceSource, error)

var sources = make(map[string]SourceFactory)

// Register registers a new source factory.
func Register(name string, factory SourceFactory) {
	sources[name] = factory
}

// NewSource creates a source instance by name.
func NewSource(name string, config SourceConfig) (EvidenceSource, error) {
	factory, exists := sources[name]
	if !exists {
		return nil, fmt.Errorf("evidence source %s not registered", name)
	}
	return factory(config)
}

// Gateway fans a target query out to every configured source.
type Gateway struct {
	sources       []EvidenceSource
	sourceTimeout time.Duration
	logger        *telemetry.Logger
	tracer        trace.Tracer
}

// Evidence is everything gathered for one target.
type Evidence struct {
	Target   string
	Alerts   []types.RawAlert
	Failures []types.SourceFailure
}

// New creates a gateway over the given sources.
func New(srcs []EvidenceSource, sourceTimeout time.Duration) *Gateway {
	if sourceTimeout <= 0 {
		sourceTimeout = 15 * time.Second
	}
	return &Gateway{
		sources:       srcs,
		sourceTimeout: sourceTimeout,
		logger:        telemetry.NewLogger("evidence-gateway"),
		tracer:        otel.Tracer("evidence-gateway"),
	}
}

// Gather queries all sources in parallel. Per-source failures are recorded
// and do not fail the whole gather; a cancelled caller context simply
// yields fewer alerts.
func (g *Gateway) Gather(ctx context.Context, target string) Evidence {
	ctx, span := g.tracer.Start(ctx, "gateway.gather",
		trace.WithAttributes(attribute.String("target", target)))
	defer span.End()

	type fetchResult struct {
		source string
		alerts []types.RawAlert
		err    error
	}

	results := make(chan fetchResult, len(g.sources))
	var wg sync.WaitGroup

	for _, src := range g.sources {
		wg.Add(1)
		go func(src EvidenceSource) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, g.sourceTimeout)
			defer cancel()

			alerts, err := src.FetchAlerts(fetchCtx, target)
			results <- fetchResult{source: src.Name(), alerts: alerts, err: err}
		}(src)
	}

	wg.Wait()
	close(results)

	evidence := Evidence{Target: target}
	for r := range results {
		if r.err != nil {
			g.logger.WithContext(ctx).Warn().
				Err(r.err).
				Str("source", r.source).
				Str("target", target).
				Msg("evidence source failed, treating as zero alerts")
			evidence.Failures = append(evidence.Failures, types.SourceFailure{
				Source: r.source,
				Err:    r.err.Error(),
			})
			continue
		}
		evidence.Alerts = append(evidence.Alerts, r.alerts...)
	}

	span.SetAttributes(
		attribute.Int("alerts", len(evidence.Alerts)),
		attribute.Int("source_failures", len(evidence.Failures)),
	)

	return evidence
}
