package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wildnest/camgate/internal/logging"
)

// Consumer processes triggers delivered by the bus.
type Consumer interface {
	// Name identifies the consumer for registration and logging.
	Name() string
	// ProcessTrigger handles one trigger. Errors are logged, never propagated
	// back to the publisher.
	ProcessTrigger(trigger *Trigger) error
}

// Config holds bus configuration.
type Config struct {
	BufferSize int
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() *Config {
	return &Config{BufferSize: 256}
}

// BusStats counts bus activity.
type BusStats struct {
	Published      uint64
	Dropped        uint64
	Processed      uint64
	ConsumerErrors uint64
}

// Bus delivers triggers to registered consumers asynchronously. Delivery is
// single-worker so consumers observe triggers in arrival order. Publishing
// never blocks: when the buffer is full the trigger is dropped and counted.
type Bus struct {
	triggerChan chan Trigger

	mu        sync.Mutex
	consumers []Consumer

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
	running  atomic.Bool

	stats  BusStats
	logger *slog.Logger
}

// NewBus creates a bus and starts its delivery worker.
func NewBus(config *Config) *Bus {
	if config == nil {
		config = DefaultConfig()
	}
	b := &Bus{
		triggerChan: make(chan Trigger, config.BufferSize),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logging.ForService("events"),
	}
	b.running.Store(true)
	go b.worker()
	return b
}

// Subscribe registers a consumer. Consumer names must be unique.
func (b *Bus) Subscribe(consumer Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already subscribed", consumer.Name())
		}
	}
	b.consumers = append(b.consumers, consumer)

	b.logger.Info("subscribed trigger consumer", "consumer", consumer.Name())
	return nil
}

// Unsubscribe removes a consumer by name. Removing an unknown name is a no-op
// so teardown paths can be unconditional.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.consumers {
		if existing.Name() == name {
			b.consumers = append(b.consumers[:i], b.consumers[i+1:]...)
			b.logger.Info("unsubscribed trigger consumer", "consumer", name)
			return
		}
	}
}

// TryPublish attempts to publish a trigger without blocking.
// Returns true if the trigger was accepted, false if dropped.
func (b *Bus) TryPublish(trigger Trigger) bool {
	if !b.running.Load() {
		return false
	}

	select {
	case b.triggerChan <- trigger:
		atomic.AddUint64(&b.stats.Published, 1)
		return true
	default:
		atomic.AddUint64(&b.stats.Dropped, 1)
		b.logger.Debug("trigger dropped due to full buffer",
			"source", trigger.Source,
			"species", trigger.Species)
		return false
	}
}

func (b *Bus) worker() {
	defer close(b.done)

	for {
		select {
		case <-b.stopChan:
			// Deliver what was accepted before the stop; publishing is
			// already refused at this point.
			for {
				select {
				case trigger := <-b.triggerChan:
					b.deliver(&trigger)
				default:
					return
				}
			}
		case trigger := <-b.triggerChan:
			b.deliver(&trigger)
		}
	}
}

func (b *Bus) deliver(trigger *Trigger) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&b.stats.ConsumerErrors, 1)
					b.logger.Error("trigger consumer panicked",
						"consumer", consumer.Name(),
						"panic", r,
						"source", trigger.Source)
				}
			}()

			if err := consumer.ProcessTrigger(trigger); err != nil {
				atomic.AddUint64(&b.stats.ConsumerErrors, 1)
				b.logger.Error("trigger consumer error",
					"consumer", consumer.Name(),
					"error", err,
					"source", trigger.Source)
			} else {
				atomic.AddUint64(&b.stats.Processed, 1)
			}
		}()
	}
}

// Shutdown stops delivery and waits for the worker to drain, bounded by
// timeout.
func (b *Bus) Shutdown(timeout time.Duration) error {
	b.running.Store(false)
	b.stopOnce.Do(func() { close(b.stopChan) })

	select {
	case <-b.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("event bus shutdown timeout exceeded")
	}
}

// GetStats returns a snapshot of bus counters.
func (b *Bus) GetStats() BusStats {
	return BusStats{
		Published:      atomic.LoadUint64(&b.stats.Published),
		Dropped:        atomic.LoadUint64(&b.stats.Dropped),
		Processed:      atomic.LoadUint64(&b.stats.Processed),
		ConsumerErrors: atomic.LoadUint64(&b.stats.ConsumerErrors),
	}
}
