package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// MemoryDeviceRepository is an in-memory DeviceRepository for tests and
// local development.
type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]map[string]*device.Device // dc → name → device
	mods    uint64
}

// NewMemoryDeviceRepository creates an empty repository.
func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{devices: make(map[string]map[string]*device.Device)}
}

// ListByDc returns the data center's devices sorted by name.
func (r *MemoryDeviceRepository) ListByDc(_ context.Context, dcName string) ([]*device.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dc := r.devices[key(dcName)]
	out := make([]*device.Device, 0, len(dc))
	for _, d := range dc {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetByName returns one device.
func (r *MemoryDeviceRepository) GetByName(_ context.Context, dcName, name string) (*device.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.devices[key(dcName)][key(name)]; ok {
		return d, nil
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: %s in %s", errors.ErrEntityNotFound, name, dcName),
		"repository", "GetByName", "device lookup")
}

// Upsert stores the device under its data center.
func (r *MemoryDeviceRepository) Upsert(_ context.Context, d *device.Device) error {
	if d == nil || d.Name == "" {
		return errors.WrapInvalid(nil, "repository", "Upsert", "device name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dc, ok := r.devices[key(d.DcName)]
	if !ok {
		dc = make(map[string]*device.Device)
		r.devices[key(d.DcName)] = dc
	}
	dc[key(d.Name)] = d
	r.mods++
	return nil
}

// LastModified returns the mutation counter as a token.
func (r *MemoryDeviceRepository) LastModified(_ context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("%d", r.mods), nil
}

// MemoryReadingSource serves canned live readings keyed by device name.
type MemoryReadingSource struct {
	mu       sync.RWMutex
	readings map[string][]*device.ReadingStat
}

// NewMemoryReadingSource creates an empty reading source.
func NewMemoryReadingSource() *MemoryReadingSource {
	return &MemoryReadingSource{readings: make(map[string][]*device.ReadingStat)}
}

// SetReadings replaces the live readings for one device.
func (r *MemoryReadingSource) SetReadings(deviceName string, stats []*device.ReadingStat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings[key(deviceName)] = stats
}

// LiveReadings returns the device's current readings, empty when none exist.
func (r *MemoryReadingSource) LiveReadings(_ context.Context, _, deviceName string) ([]*device.ReadingStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readings[key(deviceName)], nil
}

// MemoryRunRepository stores run records in memory.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[string]*types.Run
}

// NewMemoryRunRepository creates an empty run repository.
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: make(map[string]*types.Run)}
}

// SaveRun stores the run record.
func (r *MemoryRunRepository) SaveRun(_ context.Context, run *types.Run) error {
	if run == nil || run.ID == "" {
		return errors.WrapInvalid(nil, "repository", "SaveRun", "run id cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *run
	r.runs[run.ID] = &copied
	return nil
}

// GetRun returns a stored run record.
func (r *MemoryRunRepository) GetRun(_ context.Context, id string) (*types.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if run, ok := r.runs[id]; ok {
		copied := *run
		return &copied, nil
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: run %s", errors.ErrEntityNotFound, id),
		"repository", "GetRun", "run lookup")
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
