/*
dispatcher.go - Asynchronous payout notifications

PURPOSE:
  Delivers payout events (payout calculated, line item paid, advance
  issued) without holding up the operation that produced them. Services
  hand events to Notify after their transaction commits; a worker
  goroutine drains the queue and passes each event to a Sink.

DESIGN:
  - Buffered channel sized by PAYOUT_NOTIFY_BUFFER
  - Notify never blocks: a full queue drops the event and logs it
  - Sink failures are logged, never returned to the caller
  - Stop drains what is already queued before returning

USAGE:
  d := notify.NewDispatcher(notify.NewLogSink(store), 64)
  d.Start()
  defer d.Stop()
  payoutService.Notifier = d

SEE ALSO:
  - payout/notify.go: Event and Notifier
*/
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// Sink delivers one event. Returning an error only gets it logged.
type Sink interface {
	Deliver(ctx context.Context, e payout.Event) error
}

// Dispatcher queues events and delivers them from a single worker.
type Dispatcher struct {
	Sink Sink

	queue chan payout.Event
	wg    sync.WaitGroup
	mu    sync.Mutex

	started bool
	stopped bool
	dropped int
}

// NewDispatcher creates a dispatcher with a queue of the given size.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{
		Sink:  sink,
		queue: make(chan payout.Event, buffer),
	}
}

// Start launches the worker. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()

	log.Printf("[Notify] Started with queue size %d", cap(d.queue))
}

// Stop closes the queue and waits for queued events to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}
	log.Printf("[Notify] Stopped (%d events dropped)", d.Dropped())
}

// Notify implements payout.Notifier.
func (d *Dispatcher) Notify(e payout.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		d.dropped++
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped++
		log.Printf("[Notify] Queue full, dropped %s for show %s", e.Kind, e.ShowID)
	}
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e payout.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Notify] Sink panicked on %s: %v", e.Kind, r)
		}
	}()

	if err := d.Sink.Deliver(context.Background(), e); err != nil {
		log.Printf("[Notify] Failed to deliver %s for show %s: %v", e.Kind, e.ShowID, err)
	}
}

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink writes each event as a log line addressed to the payee's
// preferred payment handle.
type LogSink struct {
	Payees generic.PayeeDirectory
}

func NewLogSink(payees generic.PayeeDirectory) *LogSink {
	return &LogSink{Payees: payees}
}

func (s *LogSink) Deliver(ctx context.Context, e payout.Event) error {
	log.Printf("[Notify] %s", s.Message(ctx, e))
	return nil
}

// Message renders the human-readable text of an event.
func (s *LogSink) Message(ctx context.Context, e payout.Event) string {
	to := s.recipient(ctx, e.Payee)
	amount := generic.FormatMoney(e.Amount)

	switch e.Kind {
	case payout.EventPayoutCalculated:
		return fmt.Sprintf("show %s payout calculated: %s total", e.ShowID, amount)
	case payout.EventPayoutClosed:
		return fmt.Sprintf("show %s payout closed", e.ShowID)
	case payout.EventLineItemPaid:
		return fmt.Sprintf("%s: you were paid %s for show %s", to, amount, e.ShowID)
	case payout.EventAdvanceIssued:
		return fmt.Sprintf("%s: advance of %s issued", to, amount)
	default:
		return fmt.Sprintf("%s: %s", to, e.Kind)
	}
}

func (s *LogSink) recipient(ctx context.Context, ref generic.PayeeRef) string {
	if ref.IsZero() {
		return "producer"
	}
	if s.Payees == nil {
		return ref.String()
	}
	p, err := s.Payees.Payee(ctx, ref)
	if err != nil {
		return ref.String()
	}
	if h, ok := generic.PreferredHandle(p); ok {
		return fmt.Sprintf("%s (%s %s)", p.DisplayName(), h.Method, h.Handle)
	}
	return p.DisplayName()
}
