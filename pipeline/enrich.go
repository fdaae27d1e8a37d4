package pipeline

import (
	"context"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/repository"
)

// TopologyEnricher loads the data center's device set into the execution
// context's arena. It runs first so every later stage can resolve
// parent/child/redundancy references.
type TopologyEnricher struct {
	repo repository.DeviceRepository
}

// NewTopologyEnricher creates the topology enricher.
func NewTopologyEnricher(repo repository.DeviceRepository) *TopologyEnricher {
	return &TopologyEnricher{repo: repo}
}

// Name identifies the enricher for the context's warm-up guard.
func (e *TopologyEnricher) Name() string { return "topology" }

// ApplyOrder places topology before everything else.
func (e *TopologyEnricher) ApplyOrder() int { return 0 }

// Warm loads all devices into the arena once per run.
func (e *TopologyEnricher) Warm(ctx context.Context, ec *ExecutionContext) error {
	devices, err := e.repo.ListByDc(ctx, ec.DcName)
	if err != nil {
		return errors.Wrap(err, "TopologyEnricher", "Warm", "device listing")
	}
	for _, d := range devices {
		ec.Arena.Add(d)
	}
	return nil
}

// Refresh is a no-op; topology is static within a run.
func (e *TopologyEnricher) Refresh(_ context.Context, _ *ExecutionContext, _ *Payload) error {
	return nil
}

// LiveReadingsEnricher overlays current telemetry on every device in the
// arena, so rules about readings see live values rather than the snapshot
// loaded with the topology.
type LiveReadingsEnricher struct {
	source repository.ReadingSource
}

// NewLiveReadingsEnricher creates the live-readings enricher.
func NewLiveReadingsEnricher(source repository.ReadingSource) *LiveReadingsEnricher {
	return &LiveReadingsEnricher{source: source}
}

// Name identifies the enricher for the context's warm-up guard.
func (e *LiveReadingsEnricher) Name() string { return "live-readings" }

// ApplyOrder places live readings after topology.
func (e *LiveReadingsEnricher) ApplyOrder() int { return 10 }

// Warm replaces each device's reading stats with the live values before the
// workers start. Devices without live data keep their loaded snapshot. The
// swap must finish during warm-up: evaluators follow topology references to
// other devices' readings, so a per-payload swap would mutate a device while
// a concurrent worker reads it through the arena.
func (e *LiveReadingsEnricher) Warm(ctx context.Context, ec *ExecutionContext) error {
	for _, d := range ec.Arena.All() {
		stats, err := e.source.LiveReadings(ctx, ec.DcName, d.Name)
		if err != nil {
			return errors.Wrap(err, "LiveReadingsEnricher", "Warm", "live reading fetch for "+d.Name)
		}
		if len(stats) > 0 {
			d.ReadingStats = stats
		}
	}
	return nil
}

// Refresh is a no-op; readings are frozen at warm-up for the run.
func (e *LiveReadingsEnricher) Refresh(_ context.Context, _ *ExecutionContext, _ *Payload) error {
	return nil
}
