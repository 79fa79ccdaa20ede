// Package notify delivers ledger events to holders without slowing the ledger down
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const deliveryTimeout = 10 * time.Second

// Event is one queued notification
type Event struct {
	AccountID string    `json:"account_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type guardedSink struct {
	name    string
	sink    ledger.NotificationSink
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher queues events and fans them out to sinks from a background worker.
// Notify never blocks: when the queue is full the event is dropped.
type Dispatcher struct {
	queue   chan Event
	sinks   []*guardedSink
	log     *logrus.Logger
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher holding up to buffer pending events
func NewDispatcher(buffer int, log *logrus.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{queue: make(chan Event, buffer), log: log}
}

// Add registers a sink. Must be called before Run.
func (d *Dispatcher) Add(name string, sink ledger.NotificationSink) {
	d.sinks = append(d.sinks, &guardedSink{
		name: name,
		sink: sink,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "notify-" + name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				d.log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
			},
		}),
	})
}

// Notify queues an event
func (d *Dispatcher) Notify(_ context.Context, accountID, message string) error {
	select {
	case d.queue <- Event{AccountID: accountID, Message: message, Timestamp: time.Now()}:
	default:
		d.dropped.Add(1)
		d.log.WithField("account_id", accountID).Warn("notification queue full, event dropped")
	}
	return nil
}

// Dropped returns how many events were lost to a full queue
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers events until ctx is done, then flushes what is still queued
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			return nil, s.sink.Notify(ctx, ev.AccountID, ev.Message)
		})
		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{"sink": s.name, "account_id": ev.AccountID}).Warn("notification delivery failed")
		}
	}
}
