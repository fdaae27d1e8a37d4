package repository

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// deviceKey builds the KV key for a device: "<dc>.<name>", lowercased with
// the characters NATS KV rejects replaced.
func deviceKey(dcName, name string) string {
	return keyEscape(dcName) + "." + keyEscape(name)
}

func keyEscape(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// KVDeviceRepository stores the device topology in a NATS KV bucket, one key
// per device. An external inventory sync writes it; validation runs read it.
type KVDeviceRepository struct {
	bucket jetstream.KeyValue
}

// NewKVDeviceRepository creates or binds the device bucket.
func NewKVDeviceRepository(ctx context.Context, js jetstream.JetStream, bucket string) (*KVDeviceRepository, error) {
	if js == nil {
		return nil, errors.WrapInvalid(nil, "repository", "NewKVDeviceRepository", "jetstream context cannot be nil")
	}
	if bucket == "" {
		bucket = "dcvalidate_devices"
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Power device topology",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "repository", "NewKVDeviceRepository", "create KV bucket")
	}
	return &KVDeviceRepository{bucket: kv}, nil
}

// ListByDc returns every device whose key carries the data center prefix.
func (r *KVDeviceRepository) ListByDc(ctx context.Context, dcName string) ([]*device.Device, error) {
	prefix := keyEscape(dcName) + "."

	lister, err := r.bucket.ListKeys(ctx)
	if err != nil {
		if goerrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "repository", "ListByDc", "key listing")
	}
	defer lister.Stop()

	var devices []*device.Device
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := r.bucket.Get(ctx, key)
		if err != nil {
			if goerrors.Is(err, jetstream.ErrKeyNotFound) {
				// Deleted between listing and read.
				continue
			}
			return nil, errors.WrapTransient(err, "repository", "ListByDc", "device read")
		}
		d := &device.Device{}
		if err := json.Unmarshal(entry.Value(), d); err != nil {
			return nil, errors.WrapInvalid(err, "repository", "ListByDc", "device decoding")
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// GetByName returns one device.
func (r *KVDeviceRepository) GetByName(ctx context.Context, dcName, name string) (*device.Device, error) {
	entry, err := r.bucket.Get(ctx, deviceKey(dcName, name))
	if err != nil {
		if goerrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: device %s in %s", errors.ErrEntityNotFound, name, dcName),
				"repository", "GetByName", "KV lookup")
		}
		return nil, errors.WrapTransient(err, "repository", "GetByName", "KV lookup")
	}

	d := &device.Device{}
	if err := json.Unmarshal(entry.Value(), d); err != nil {
		return nil, errors.WrapInvalid(err, "repository", "GetByName", "device decoding")
	}
	return d, nil
}

// Upsert stores the device under its data center and name.
func (r *KVDeviceRepository) Upsert(ctx context.Context, d *device.Device) error {
	if d == nil || d.Name == "" {
		return errors.WrapInvalid(nil, "repository", "Upsert", "device name cannot be empty")
	}

	data, err := json.Marshal(d)
	if err != nil {
		return errors.WrapInvalid(err, "repository", "Upsert", "device encoding")
	}
	if _, err := r.bucket.Put(ctx, deviceKey(d.DcName, d.Name), data); err != nil {
		return errors.WrapTransient(err, "repository", "Upsert", "KV write")
	}
	return nil
}

// LastModified returns the bucket's last stream sequence; any write advances
// it, making it a cheap modification token.
func (r *KVDeviceRepository) LastModified(ctx context.Context) (string, error) {
	status, err := r.bucket.Status(ctx)
	if err != nil {
		return "", errors.WrapTransient(err, "repository", "LastModified", "bucket status")
	}
	if bs, ok := status.(*jetstream.KeyValueBucketStatus); ok {
		return fmt.Sprintf("%d", bs.StreamInfo().State.LastSeq), nil
	}
	return fmt.Sprintf("%d", status.Values()), nil
}

var _ DeviceRepository = (*KVDeviceRepository)(nil)

// KVReadingSource reads live telemetry snapshots from a NATS KV bucket
// written by the ingest side, one key per device.
type KVReadingSource struct {
	bucket jetstream.KeyValue
}

// NewKVReadingSource creates or binds the readings bucket.
func NewKVReadingSource(ctx context.Context, js jetstream.JetStream, bucket string) (*KVReadingSource, error) {
	if js == nil {
		return nil, errors.WrapInvalid(nil, "repository", "NewKVReadingSource", "jetstream context cannot be nil")
	}
	if bucket == "" {
		bucket = "dcvalidate_readings"
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Live device reading snapshots",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "repository", "NewKVReadingSource", "create KV bucket")
	}
	return &KVReadingSource{bucket: kv}, nil
}

// LiveReadings returns the latest snapshot for the device. A device without
// a snapshot yields no readings, not an error.
func (r *KVReadingSource) LiveReadings(ctx context.Context, dcName, deviceName string) ([]*device.ReadingStat, error) {
	entry, err := r.bucket.Get(ctx, deviceKey(dcName, deviceName))
	if err != nil {
		if goerrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "repository", "LiveReadings", "KV lookup")
	}

	var stats []*device.ReadingStat
	if err := json.Unmarshal(entry.Value(), &stats); err != nil {
		return nil, errors.WrapInvalid(err, "repository", "LiveReadings", "reading decoding")
	}
	return stats, nil
}

var _ ReadingSource = (*KVReadingSource)(nil)

// KVRunRepository persists run records in a NATS KV bucket keyed by run id.
type KVRunRepository struct {
	bucket jetstream.KeyValue
}

// NewKVRunRepository creates or binds the runs bucket.
func NewKVRunRepository(ctx context.Context, js jetstream.JetStream, bucket string) (*KVRunRepository, error) {
	if js == nil {
		return nil, errors.WrapInvalid(nil, "repository", "NewKVRunRepository", "jetstream context cannot be nil")
	}
	if bucket == "" {
		bucket = "dcvalidate_runs"
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Validation run records",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "repository", "NewKVRunRepository", "create KV bucket")
	}
	return &KVRunRepository{bucket: kv}, nil
}

// SaveRun stores the run record under its id.
func (r *KVRunRepository) SaveRun(ctx context.Context, run *types.Run) error {
	if run == nil || run.ID == "" {
		return errors.WrapInvalid(nil, "repository", "SaveRun", "run id cannot be empty")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return errors.WrapInvalid(err, "repository", "SaveRun", "run encoding")
	}
	if _, err := r.bucket.Put(ctx, keyEscape(run.ID), data); err != nil {
		return errors.WrapTransient(err, "repository", "SaveRun", "KV write")
	}
	return nil
}

// GetRun returns one run record.
func (r *KVRunRepository) GetRun(ctx context.Context, id string) (*types.Run, error) {
	entry, err := r.bucket.Get(ctx, keyEscape(id))
	if err != nil {
		if goerrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: run %s", errors.ErrEntityNotFound, id),
				"repository", "GetRun", "KV lookup")
		}
		return nil, errors.WrapTransient(err, "repository", "GetRun", "KV lookup")
	}

	run := &types.Run{}
	if err := json.Unmarshal(entry.Value(), run); err != nil {
		return nil, errors.WrapInvalid(err, "repository", "GetRun", "run decoding")
	}
	return run, nil
}

var _ RunRepository = (*KVRunRepository)(nil)
