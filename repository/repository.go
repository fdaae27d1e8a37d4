// Package repository defines the persistence collaborators the pipeline
// reads entities from and writes run records to. The production system backs
// these with a document store; here the contracts plus in-memory
// implementations are what the engine is wired against.
package repository

import (
	"context"

	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/types"
)

// DeviceRepository loads power devices for validation runs.
type DeviceRepository interface {
	// ListByDc returns every device of one data center.
	ListByDc(ctx context.Context, dcName string) ([]*device.Device, error)

	// GetByName returns one device. Wraps errors.ErrEntityNotFound when the
	// device does not exist.
	GetByName(ctx context.Context, dcName, name string) (*device.Device, error)

	// Upsert stores a device.
	Upsert(ctx context.Context, d *device.Device) error

	// LastModified returns an opaque token that changes on every mutation.
	LastModified(ctx context.Context) (string, error)
}

// ReadingSource provides live telemetry, refreshed per entity during
// enrichment rather than loaded with the static topology.
type ReadingSource interface {
	LiveReadings(ctx context.Context, dcName, deviceName string) ([]*device.ReadingStat, error)
}

// RunRepository persists run records.
type RunRepository interface {
	SaveRun(ctx context.Context, run *types.Run) error
	GetRun(ctx context.Context, id string) (*types.Run, error)
}
