package collector

import (
	"context"
	"errors"
	"time"

	"pulsera/internal/accel"
)

var (
	// ErrNotFound is returned when a device did not show up in a scan.
	ErrNotFound = errors.New("device not found in scan")
	// ErrServiceMissing is returned when a peer lacks the accelerometer service.
	ErrServiceMissing = errors.New("accelerometer service not found")
)

// Radio is the central-role BLE side of the collector.
type Radio interface {
	// Scan reports wearables advertising the marker, one entry per address.
	Scan(ctx context.Context, timeout time.Duration) ([]Advert, error)
	// Connect links to address and discovers the accelerometer characteristic.
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is a connection to one wearable.
type Link interface {
	Address() string
	Name() string
	// Subscribe enables notifications; fn runs on the radio's goroutine.
	Subscribe(fn func(payload []byte)) error
	ReadSample() (accel.Sample, error)
	Disconnect() error
	// Done is closed when the link drops.
	Done() <-chan struct{}
}

// SampleFromRead decodes a characteristic read. Stacks that cannot serve
// dynamic reads return the last notified batch; its newest sample is used.
func SampleFromRead(b []byte) (accel.Sample, error) {
	if len(b) == accel.BatchWireSize {
		var batch accel.Batch
		if err := batch.UnmarshalBinary(b); err != nil {
			return accel.Sample{}, err
		}
		return batch.Samples[accel.BatchSize-1], nil
	}
	return accel.ParseSample(b)
}
