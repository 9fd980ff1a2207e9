// Package zone tracks per-zone heap accounting for buffer memory.
//
// A Zone counts the bytes of tenured buffer memory it owns and calls a
// trigger callback once when that count crosses a threshold, which is how a
// collector learns that a major collection is due. The buffer allocator
// adds and removes bytes; the collector re-arms the trigger after each cycle.
package zone

import (
	"sync/atomic"
)

// Config tunes a Zone.
type Config struct {
	// Name for this zone (shows up in logs and reports)
	Name string

	// TriggerBytes is the initial malloc-heap size that fires OnTrigger.
	// Zero disables triggering until Rearm is called.
	TriggerBytes int64

	// GrowthFactor scales the surviving heap size into the next threshold
	// when Rearm is called with zero.
	GrowthFactor float64

	// MinTriggerBytes is the floor applied by Rearm.
	MinTriggerBytes int64

	// OnTrigger runs on the goroutine whose allocation crossed the threshold.
	OnTrigger func(z *Zone, heapSize int64)
}

// DefaultConfig is used when New is given nil.
var DefaultConfig = Config{
	Name:            "default",
	TriggerBytes:    32 << 20,
	GrowthFactor:    1.5,
	MinTriggerBytes: 8 << 20,
}

// Zone is one memory zone's accounting state. Safe for concurrent use.
type Zone struct {
	ID   uint64
	Name string

	cfg Config

	mallocHeapSize atomic.Int64
	threshold      atomic.Int64
	fired          atomic.Bool
	triggers       atomic.Int64
}

// New creates a zone. A nil cfg uses DefaultConfig.
func New(id uint64, cfg *Config) *Zone {
	c := DefaultConfig
	if cfg != nil {
		c = *cfg
	}
	z := &Zone{ID: id, Name: c.Name, cfg: c}
	z.threshold.Store(c.TriggerBytes)
	return z
}

// AddMallocBytes records n more bytes of tenured buffer memory and fires the
// trigger if the threshold is crossed.
func (z *Zone) AddMallocBytes(n int) {
	size := z.mallocHeapSize.Add(int64(n))
	z.maybeTrigger(size)
}

// RemoveMallocBytes records n fewer bytes of tenured buffer memory.
func (z *Zone) RemoveMallocBytes(n int) {
	z.mallocHeapSize.Add(-int64(n))
}

// MallocHeapSize returns the current accounted byte count.
func (z *Zone) MallocHeapSize() int64 {
	return z.mallocHeapSize.Load()
}

// Threshold returns the current trigger threshold, or 0 when disarmed.
func (z *Zone) Threshold() int64 {
	return z.threshold.Load()
}

// Triggered reports whether the trigger fired since the last Rearm.
func (z *Zone) Triggered() bool {
	return z.fired.Load()
}

// Triggers returns how many times the trigger has fired.
func (z *Zone) Triggers() int64 {
	return z.triggers.Load()
}

// Rearm sets a new threshold and allows the trigger to fire again. A zero
// threshold derives one from the current heap size and GrowthFactor.
func (z *Zone) Rearm(threshold int64) {
	if threshold == 0 {
		threshold = int64(float64(z.MallocHeapSize()) * z.cfg.GrowthFactor)
		threshold = max(threshold, z.cfg.MinTriggerBytes)
	}
	z.threshold.Store(threshold)
	z.fired.Store(false)
}

func (z *Zone) maybeTrigger(size int64) {
	t := z.threshold.Load()
	if t <= 0 || size < t {
		return
	}
	if !z.fired.CompareAndSwap(false, true) {
		return
	}
	z.triggers.Add(1)
	if z.cfg.OnTrigger != nil {
		z.cfg.OnTrigger(z, size)
	}
}

func (z *Zone) String() string {
	return z.Name
}
