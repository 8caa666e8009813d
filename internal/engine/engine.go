package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"

	"skarv/internal/book"
	"skarv/internal/config"
	"skarv/internal/order"
)

var (
	ErrNotRegistered   = errors.New("instrument not registered")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrAlreadyStarted  = errors.New("engine already started")
	ErrStopped         = errors.New("engine stopped")
	ErrShutdownTimeout = errors.New("shutdown wait elapsed with tasks still running")
)

// slot pairs an instrument's book with its task-submission guard. The two
// are inserted into and removed from the registry as one unit, so the guard
// can never drift out of sync with the book it protects.
type slot struct {
	book      *book.Book
	scheduled atomic.Bool
}

// Engine is the instrument registry and the only entry point external
// callers use. It owns the shared worker pool and the periodic trigger that
// keeps exactly one matching task alive per registered instrument.
type Engine struct {
	cfg  *config.Config
	log  zerolog.Logger
	pool *workerPool

	mu    sync.Mutex
	slots map[string]*slot

	t       tomb.Tomb
	started atomic.Bool
	stopped atomic.Bool
}

func New(cfg *config.Config, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		log:   log.With().Str("component", "engine").Logger(),
		pool:  newWorkerPool(log),
		slots: make(map[string]*slot),
	}
}

// Start launches the worker pool and the registry scan trigger.
func (e *Engine) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	e.pool.start(&e.t, e.cfg.Parallelism)
	e.t.Go(e.trigger)
	e.log.Info().Int("parallelism", e.cfg.Parallelism).Msg("engine started")
	return nil
}

// Register creates an active book for the instrument and schedules its
// matching task. Returns false if the instrument is already registered or
// the engine has shut down.
func (e *Engine) Register(instrument string) bool {
	if e.stopped.Load() {
		e.log.Warn().Str("instrument", instrument).Msg("engine stopped, registration refused")
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.slots[instrument]; ok {
		e.log.Warn().Str("instrument", instrument).Msg("already registered")
		return false
	}
	s := &slot{book: book.New(instrument, book.LimitRule{}, e.log)}
	e.slots[instrument] = s
	e.schedule(instrument, s)
	e.log.Info().Str("instrument", instrument).Msg("instrument registered")
	return true
}

// Unregister deactivates the instrument's book and removes its registry
// entry, so the same symbol can be registered again later. The running
// matching task observes the deactivation and exits on its own; resting
// orders are discarded without notification.
func (e *Engine) Unregister(instrument string) bool {
	e.mu.Lock()
	s, ok := e.slots[instrument]
	if ok {
		delete(e.slots, instrument)
	}
	e.mu.Unlock()
	if !ok {
		e.log.Warn().Str("instrument", instrument).Msg("not registered")
		return false
	}
	s.book.Deactivate()
	e.log.Info().Str("instrument", instrument).Msg("instrument unregistered")
	return true
}

// Submit forwards the order to the instrument's book.
func (e *Engine) Submit(instrument string, o *order.Order) error {
	if e.stopped.Load() {
		return ErrStopped
	}
	b, err := e.lookup(instrument)
	if err != nil {
		return err
	}
	return b.Submit(o)
}

// SubmitFor attaches the counterparty to the order before submitting it. An
// explicitly nil counterparty is a caller error.
func (e *Engine) SubmitFor(instrument string, o *order.Order, cp order.CounterParty) error {
	if e.stopped.Load() {
		return ErrStopped
	}
	b, err := e.lookup(instrument)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("%w: counterparty must not be nil", ErrInvalidOrder)
	}
	o.SetCounterParty(cp)
	return b.Submit(o)
}

// IsPending reports whether the order rests in its instrument's book.
func (e *Engine) IsPending(o *order.Order) (bool, error) {
	b, err := e.lookup(o.Instrument())
	if err != nil {
		return false, err
	}
	return b.IsPending(o), nil
}

// Cancel removes the order from its instrument's book.
func (e *Engine) Cancel(o *order.Order) (bool, error) {
	b, err := e.lookup(o.Instrument())
	if err != nil {
		return false, err
	}
	return b.Cancel(o)
}

// PeekBuy returns the best resting buy order, nil when the side is empty.
func (e *Engine) PeekBuy(instrument string) (*order.Order, error) {
	b, err := e.lookup(instrument)
	if err != nil {
		return nil, err
	}
	o, _ := b.PeekBuy()
	return o, nil
}

// PeekSell returns the best resting sell order, nil when the side is empty.
func (e *Engine) PeekSell(instrument string) (*order.Order, error) {
	b, err := e.lookup(instrument)
	if err != nil {
		return nil, err
	}
	o, _ := b.PeekSell()
	return o, nil
}

// PopBuy removes and returns the best resting buy order, nil when empty.
func (e *Engine) PopBuy(instrument string) (*order.Order, error) {
	b, err := e.lookup(instrument)
	if err != nil {
		return nil, err
	}
	o, _ := b.PopBuy()
	return o, nil
}

// PopSell removes and returns the best resting sell order, nil when empty.
func (e *Engine) PopSell(instrument string) (*order.Order, error) {
	b, err := e.lookup(instrument)
	if err != nil {
		return nil, err
	}
	o, _ := b.PopSell()
	return o, nil
}

// Shutdown stops accepting registrations and orders, then waits boundedly
// for the pool and trigger to quiesce. Tasks still mid-iteration at the
// deadline are abandoned. A never-started engine has nothing to quiesce and
// returns immediately; the tomb is left alone in that case because Dead
// never fires for a tomb that ran no goroutines.
func (e *Engine) Shutdown() error {
	e.stopped.Store(true)
	if !e.started.Load() {
		e.log.Info().Msg("shutdown before start, nothing to quiesce")
		return nil
	}
	e.log.Info().Dur("wait", e.cfg.ShutdownWait).Msg("shutting down")
	e.t.Kill(nil)
	select {
	case <-e.t.Dead():
		return e.t.Err()
	case <-time.After(e.cfg.ShutdownWait):
		e.log.Error().Msg("workers did not quiesce in time")
		return ErrShutdownTimeout
	}
}

func (e *Engine) lookup(instrument string) (*book.Book, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, instrument)
	}
	return s.book, nil
}

// trigger periodically rescans the registry and schedules a matching task
// for any instrument that lacks one. Registration schedules eagerly, so the
// scan is a backstop for tasks that could not be queued at the time.
func (e *Engine) trigger() error {
	tick := time.NewTicker(e.cfg.ScanInterval)
	defer tick.Stop()
	for {
		select {
		case <-e.t.Dying():
			return nil
		case <-tick.C:
			e.mu.Lock()
			for instrument, s := range e.slots {
				e.schedule(instrument, s)
			}
			e.mu.Unlock()
		}
	}
}

// schedule queues the instrument's matching task at most once. The CAS on
// the slot guard is what guarantees a single task per instrument no matter
// how often the scan retriggers. Callers hold e.mu.
func (e *Engine) schedule(instrument string, s *slot) {
	if !s.scheduled.CompareAndSwap(false, true) {
		return
	}
	if !e.pool.trySubmit(e.matcher(instrument, s.book)) {
		s.scheduled.Store(false) // retry on the next scan
	}
}

// matcher builds the long-running matching loop for one instrument. It
// drains crossing pairs, idles briefly, and repeats until the book is
// deactivated or the engine dies.
func (e *Engine) matcher(instrument string, b *book.Book) task {
	return func(t *tomb.Tomb) error {
		log := e.log.With().Str("instrument", instrument).Logger()
		log.Info().Msg("matching started")
		for {
			executed, err := b.MatchAll()
			if errors.Is(err, book.ErrNotActive) {
				log.Info().Msg("book no longer active, matching stopped")
				return nil
			}
			if len(executed) > 0 {
				log.Info().Int("orders", len(executed)).Msg("matched crossing orders")
			}
			select {
			case <-t.Dying():
				return nil
			case <-time.After(e.cfg.MatchIdle):
			}
		}
	}
}
