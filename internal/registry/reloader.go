package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Reloader serves a registry built from a Source and rebuilds it once the TTL expires.
// Reads are lock-free: an expired registry keeps being served while exactly one
// goroutine rebuilds it in the background (stale-while-revalidate).
type Reloader struct {
	source  Source
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger

	current atomic.Pointer[generation]
	// done is signalled after every background refresh attempt; tests wait on it.
	done chan struct{}
}

type generation struct {
	reg        *Static
	expiresAt  time.Time
	refreshing atomic.Bool
}

// ReloaderConfig configures a Reloader.
type ReloaderConfig struct {
	Source Source
	// TTL of a built registry. Zero disables refresh; the registry is built once.
	TTL time.Duration
	// RefreshTimeout bounds one background rebuild. Defaults to 10s.
	RefreshTimeout time.Duration
	Logger         *zap.Logger
}

// NewReloader builds the initial registry. Failing to build it is fatal;
// failures of later background rebuilds are logged and the old registry is kept.
func NewReloader(ctx context.Context, cfg ReloaderConfig) (*Reloader, error) {
	timeout := cfg.RefreshTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reloader{
		source:  cfg.Source,
		ttl:     cfg.TTL,
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}, 1),
	}
	reg, err := r.build(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewReloader: %w", err)
	}
	r.publish(reg)
	return r, nil
}

// Snapshot returns the current registry, triggering a background rebuild when it has expired.
func (r *Reloader) Snapshot() Registry {
	gen := r.current.Load()
	if r.ttl > 0 && time.Now().After(gen.expiresAt) {
		// Only one goroutine wins the CAS.
		if gen.refreshing.CompareAndSwap(false, true) {
			go r.refreshInBackground(gen)
		}
	}
	return gen.reg
}

// Reload rebuilds the registry synchronously. On error the current registry is kept.
func (r *Reloader) Reload(ctx context.Context) error {
	reg, err := r.build(ctx)
	if err != nil {
		return fmt.Errorf("Reload: %w", err)
	}
	r.publish(reg)
	return nil
}

func (r *Reloader) refreshInBackground(stale *generation) {
	defer r.signal()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	reg, err := r.build(ctx)
	if err != nil {
		r.logger.Warn("background tool registry rebuild failed, keeping previous registry",
			zap.String("source", r.source.String()),
			zap.Error(err),
		)
		// Serve the old registry for another TTL before retrying, unless a
		// newer generation was published meanwhile.
		r.current.CompareAndSwap(stale, r.generation(stale.reg))
		return
	}
	if !r.current.CompareAndSwap(stale, r.generation(reg)) {
		r.logger.Debug("discarding background rebuild, a newer registry was published",
			zap.String("source", r.source.String()),
		)
		return
	}
	r.logger.Info("tool registry rebuilt",
		zap.String("source", r.source.String()),
		zap.Int("tools", reg.Len()),
	)
}

func (r *Reloader) build(ctx context.Context) (*Static, error) {
	defs, err := r.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewStatic(defs)
}

func (r *Reloader) publish(reg *Static) {
	r.current.Store(r.generation(reg))
}

func (r *Reloader) generation(reg *Static) *generation {
	return &generation{reg: reg, expiresAt: time.Now().Add(r.ttl)}
}

func (r *Reloader) signal() {
	select {
	case r.done <- struct{}{}:
	default:
	}
}
