package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"castmix/internal/core/domain"
)

// EngineStater is the part of the engine the readiness checks need.
type EngineStater interface {
	State() domain.EngineState
}

// AddEngineCheck passes while the engine is rendering or suspended.
func (h *HealthChecker) AddEngineCheck(engine EngineStater, interval, timeout time.Duration) {
	h.AddCheck("engine", func(ctx context.Context) (bool, error) {
		switch s := engine.State(); s {
		case domain.StateRendering, domain.StateSuspended:
			return true, nil
		default:
			return false, fmt.Errorf("engine is %s", s)
		}
	}, interval, timeout)
}

// AddFrameCheck fails when no frame has been committed within maxAge while
// the engine is rendering. A suspended engine is expected to be idle.
func (h *HealthChecker) AddFrameCheck(engine EngineStater, frames func() uint64, maxAge, interval time.Duration) {
	var (
		mu       sync.Mutex
		last     uint64
		lastSeen = time.Now()
	)
	h.AddCheck("frames", func(ctx context.Context) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		n := frames()
		if n != last || engine.State() != domain.StateRendering {
			last, lastSeen = n, now
			return true, nil
		}
		if age := now.Sub(lastSeen); age > maxAge {
			return false, fmt.Errorf("no frame rendered for %s", age.Round(time.Millisecond))
		}
		return true, nil
	}, interval, 0)
}
