package book

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/btree"

	"skarv/internal/order"
)

// ErrNotActive is returned by mutating operations on a deactivated book.
// The matching task uses it to tell "this instrument is gone" apart from
// "nothing to do right now".
var ErrNotActive = errors.New("order book not active")

// ValidLotSize is the only lot size accepted at submission; anything else is
// rejected, not errored.
const ValidLotSize = 100

// Book is the per-instrument matching engine: two priority queues and a
// match rule. One mutex scopes every mutating operation, so the multi-step
// match-and-settle sequence can never interleave with a submit, cancel or
// deactivate on the same book.
type Book struct {
	instrument string
	rule       MatchRule

	mu     sync.Mutex
	buys   *btree.BTreeG[*order.Order]
	sells  *btree.BTreeG[*order.Order]
	active bool
	seq    uint64

	log zerolog.Logger
}

func New(instrument string, rule MatchRule, log zerolog.Logger) *Book {
	return &Book{
		instrument: instrument,
		rule:       rule,
		buys:       btree.NewBTreeG(order.LessBuy),
		sells:      btree.NewBTreeG(order.LessSell),
		active:     true,
		log:        log.With().Str("instrument", instrument).Logger(),
	}
}

func (b *Book) Instrument() string {
	return b.instrument
}

// Submit stamps the order's submission time, validates it and enqueues it on
// its side. A lot size other than ValidLotSize rejects the order: status
// becomes Rejected, the counterparty (if any) is notified with filled 0, and
// the order is never enqueued. Rejection is not an error.
func (b *Book) Submit(o *order.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return ErrNotActive
	}
	b.seq++
	o.MarkSubmitted(time.Now(), b.seq)
	if o.LotSize() != ValidLotSize {
		o.SetStatus(order.StatusRejected)
		b.log.Warn().Int64("lot", o.LotSize()).Stringer("order", o).Msg("order rejected")
		b.notify(o, 0)
		return nil
	}
	b.queueFor(o).Set(o)
	return nil
}

// PeekBuy returns the highest-priority resting buy order without removing it.
func (b *Book) PeekBuy() (*order.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buys.Min()
}

// PeekSell returns the highest-priority resting sell order without removing it.
func (b *Book) PeekSell() (*order.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sells.Min()
}

// PopBuy removes and returns the highest-priority resting buy order.
func (b *Book) PopBuy() (*order.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buys.PopMin()
}

// PopSell removes and returns the highest-priority resting sell order.
func (b *Book) PopSell() (*order.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sells.PopMin()
}

// IsPending reports whether the order currently rests in its side's queue.
func (b *Book) IsPending(o *order.Order) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending(o)
}

// Cancel removes a pending order from its queue and marks it Cancelled.
// Returns false without error if the order was not pending.
func (b *Book) Cancel(o *order.Order) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return false, ErrNotActive
	}
	if !b.remove(o) {
		return false, nil
	}
	o.SetStatus(order.StatusCancelled)
	b.log.Info().Stringer("order", o).Msg("order cancelled")
	return true, nil
}

// Remove takes the order out of its queue without touching its status.
func (b *Book) Remove(o *order.Order) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remove(o)
}

// MatchOne settles at most one trade between the current best pair.
func (b *Book) MatchOne() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return ErrNotActive
	}
	if buy, sell, ok := b.bestPair(); ok && b.rule.Crosses(buy, sell) {
		b.settle(buy, sell)
	}
	return nil
}

// MatchAll settles trades under a single lock acquisition until the best
// pair no longer crosses or either side is empty. It returns the set of
// orders touched, empty when nothing traded.
func (b *Book) MatchAll() ([]*order.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return nil, ErrNotActive
	}
	var touched []*order.Order
	seen := make(map[*order.Order]struct{})
	note := func(o *order.Order) {
		if _, ok := seen[o]; !ok {
			seen[o] = struct{}{}
			touched = append(touched, o)
		}
	}
	for {
		buy, sell, ok := b.bestPair()
		if !ok || !b.rule.Crosses(buy, sell) {
			break
		}
		b.settle(buy, sell)
		note(buy)
		note(sell)
	}
	return touched, nil
}

// Deactivate is a hard stop: it flips the active flag and discards both
// queues. Resting orders are not individually cancelled or notified.
func (b *Book) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	b.buys.Clear()
	b.sells.Clear()
	b.log.Info().Msg("book deactivated, queues cleared")
}

// Depth reports the number of resting orders on each side.
func (b *Book) Depth() (buys, sells int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buys.Len(), b.sells.Len()
}

// bestPair peeks both sides; ok only when both are present. This is the sole
// path into the match rule, so Crosses never sees a missing operand. Lock
// must be held.
func (b *Book) bestPair() (buy, sell *order.Order, ok bool) {
	buy, okBuy := b.buys.Min()
	sell, okSell := b.sells.Min()
	if !okBuy || !okSell {
		return nil, nil, false
	}
	return buy, sell, true
}

// settle executes one trade between a crossing pair. Both sides are always
// processed: the smaller side reaches Executed and leaves its queue, the
// larger side stays Pending with its remainder at the head. Lock must be
// held.
func (b *Book) settle(buy, sell *order.Order) {
	fill := min(buy.Quantity(), sell.Quantity())
	b.fill(sell, fill)
	b.fill(buy, fill)
	b.log.Info().
		Int64("filled", fill).
		Stringer("buy", buy).
		Stringer("sell", sell).
		Msg("trade settled")
}

// fill applies one settlement step to a single side. Quantity is a ranking
// key, so a partially filled order leaves its tree before the decrement and
// comes back re-ranked. Lock must be held.
func (b *Book) fill(o *order.Order, qty int64) {
	q := b.queueFor(o)
	if qty == o.Quantity() {
		o.SetStatus(order.StatusExecuted)
		q.Delete(o)
	} else {
		q.Delete(o)
		o.Reduce(qty)
		o.SetStatus(order.StatusPending)
		q.Set(o)
	}
	b.notify(o, qty)
}

// notify delivers the counterparty callback; absence of a party is silent.
// Lock must be held so the callback runs inline with the settlement step.
func (b *Book) notify(o *order.Order, filled int64) {
	if cp := o.CounterParty(); cp != nil {
		cp.OrderStatus(o, filled, " ORDER STATE: "+o.String())
	}
}

func (b *Book) pending(o *order.Order) bool {
	got, ok := b.queueFor(o).Get(o)
	return ok && got.Equal(o)
}

func (b *Book) remove(o *order.Order) bool {
	if !b.pending(o) {
		return false
	}
	b.queueFor(o).Delete(o)
	return true
}

func (b *Book) queueFor(o *order.Order) *btree.BTreeG[*order.Order] {
	if o.Side() == order.Buy {
		return b.buys
	}
	return b.sells
}
