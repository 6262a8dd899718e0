// Package stylize turns a bounded preview into a pixel-art rendition. Remote simulates an
// external generative model that is slow and sometimes fails; Local is the deterministic
// fallback.
package stylize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/menta2k/capture-studio/pkg/preview"
	"github.com/menta2k/capture-studio/pkg/processing"
	"github.com/menta2k/capture-studio/pkg/random"
)

// ErrModelTimeout is returned when the style model does not answer in time
var ErrModelTimeout = errors.New("style model timed out")

// Block sizes of the two renditions. The remote one is finer so the paths look different.
const (
	RemoteBlockSize = 8
	LocalBlockSize  = 12
)

// Stylizer produces a stylized copy of an encoded image
type Stylizer interface {
	Stylize(ctx context.Context, src preview.Blob) (preview.Blob, error)
}

// Local pixelates synchronously
type Local struct {
	processor *processing.Processor
	blockSize int
}

// NewLocal creates a local stylizer. A non-positive block size selects LocalBlockSize.
func NewLocal(processor *processing.Processor, blockSize int) *Local {
	if blockSize <= 0 {
		blockSize = LocalBlockSize
	}
	return &Local{processor: processor, blockSize: blockSize}
}

// Stylize implements Stylizer
func (l *Local) Stylize(ctx context.Context, src preview.Blob) (preview.Blob, error) {
	if err := ctx.Err(); err != nil {
		return preview.Blob{}, err
	}
	return l.processor.Stylize(src, l.blockSize)
}

// RemoteConfig configures the simulated model
type RemoteConfig struct {
	BlockSize   int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64
}

// DefaultRemoteConfig returns the standard simulation settings
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BlockSize:   RemoteBlockSize,
		MinDelay:    600 * time.Millisecond,
		MaxDelay:    1200 * time.Millisecond,
		FailureRate: 0.2,
	}
}

// Remote simulates a generative style model
type Remote struct {
	processor *processing.Processor
	config    RemoteConfig
	rng       random.Source
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRemote creates a simulated remote stylizer
func NewRemote(processor *processing.Processor, cfg RemoteConfig, rng random.Source) *Remote {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = RemoteBlockSize
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Remote{
		processor: processor,
		config:    cfg,
		rng:       rng,
		sleep:     sleepContext,
	}
}

// WithSleep replaces the delay function, mainly for tests
func (r *Remote) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Remote {
	r.sleep = sleep
	return r
}

// Stylize waits a random delay, fails with ErrModelTimeout at the configured rate and
// otherwise pixelates with the remote block size.
func (r *Remote) Stylize(ctx context.Context, src preview.Blob) (preview.Blob, error) {
	delay := r.config.MinDelay + time.Duration(random.Between(r.rng, 0, float64(r.config.MaxDelay-r.config.MinDelay)))
	if err := r.sleep(ctx, delay); err != nil {
		return preview.Blob{}, err
	}

	if r.rng.Float64() < r.config.FailureRate {
		return preview.Blob{}, fmt.Errorf("%w after %s", ErrModelTimeout, delay.Round(time.Millisecond))
	}
	return r.processor.Stylize(src, r.config.BlockSize)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
