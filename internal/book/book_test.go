package book_test

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skarv/internal/book"
	"skarv/internal/order"
)

// --- Setup & Helpers --------------------------------------------------------

const ric = ".N225"

func newBook() *book.Book {
	return book.New(ric, book.LimitRule{}, zerolog.Nop())
}

func sellAt(t *testing.T, qty int64, price float64) *order.Order {
	t.Helper()
	o, err := order.NewSell(ric, qty, price, 100)
	require.NoError(t, err)
	return o
}

func buyAt(t *testing.T, qty int64, price float64) *order.Order {
	t.Helper()
	o, err := order.NewBuy(ric, qty, price, 100)
	require.NoError(t, err)
	return o
}

func submitAll(t *testing.T, b *book.Book, orders ...*order.Order) {
	t.Helper()
	for _, o := range orders {
		require.NoError(t, b.Submit(o))
	}
}

type statusCall struct {
	order  *order.Order
	filled int64
	msg    string
}

// recordingParty captures every callback for later assertions.
type recordingParty struct {
	mu    sync.Mutex
	calls []statusCall
}

func (p *recordingParty) OrderStatus(o *order.Order, filled int64, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, statusCall{o, filled, msg})
}

func (p *recordingParty) recorded() []statusCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]statusCall(nil), p.calls...)
}

// --- Tests ------------------------------------------------------------------

func TestSellPriceTimePriority(t *testing.T) {
	b := newBook()
	s1 := sellAt(t, 1, 20.30)
	s2 := sellAt(t, 1, 20.25)
	s3 := sellAt(t, 2, 20.30)
	submitAll(t, b, s1, s2, s3)

	got, ok := b.PopSell()
	require.True(t, ok)
	assert.True(t, s2.Equal(got), "lowest price pops first")

	got, ok = b.PopSell()
	require.True(t, ok)
	assert.True(t, s1.Equal(got), "earlier submission pops before the later 20.30")

	got, ok = b.PopSell()
	require.True(t, ok)
	assert.True(t, s3.Equal(got))

	_, ok = b.PeekSell()
	assert.False(t, ok, "no orders left")
}

func TestBuyPriceTimePriority(t *testing.T) {
	b := newBook()
	b1 := buyAt(t, 1, 20.15)
	b2 := buyAt(t, 2, 20.20)
	b3 := buyAt(t, 2, 20.15)
	submitAll(t, b, b1, b2, b3)

	got, ok := b.PopBuy()
	require.True(t, ok)
	assert.True(t, b2.Equal(got), "highest price pops first")

	got, ok = b.PopBuy()
	require.True(t, ok)
	assert.True(t, b1.Equal(got))

	got, ok = b.PopBuy()
	require.True(t, ok)
	assert.True(t, b3.Equal(got))

	_, ok = b.PeekBuy()
	assert.False(t, ok)
}

func TestPeekDoesNotRemove(t *testing.T) {
	b := newBook()
	s := sellAt(t, 1, 20.25)
	submitAll(t, b, s)

	got, ok := b.PeekSell()
	require.True(t, ok)
	assert.True(t, s.Equal(got))
	assert.True(t, b.IsPending(s))
}

func TestRejectedOrderNeverEnqueued(t *testing.T) {
	b := newBook()
	cp := &recordingParty{}
	bad, err := order.NewSell(ric, 1, 20.30, 10)
	require.NoError(t, err)
	bad.SetCounterParty(cp)

	require.NoError(t, b.Submit(bad))

	assert.Equal(t, order.StatusRejected, bad.Status())
	assert.False(t, b.IsPending(bad))
	_, sells := b.Depth()
	assert.Zero(t, sells)

	calls := cp.recorded()
	require.Len(t, calls, 1)
	assert.Zero(t, calls[0].filled)
	assert.Contains(t, calls[0].msg, " ORDER STATE: ")
}

func TestRejectionWithoutPartyIsSilent(t *testing.T) {
	b := newBook()
	bad, err := order.NewBuy(ric, 1, 20.30, 7)
	require.NoError(t, err)

	require.NoError(t, b.Submit(bad))
	assert.Equal(t, order.StatusRejected, bad.Status())
}

func TestCancel(t *testing.T) {
	b := newBook()
	s := sellAt(t, 1, 30.30)
	submitAll(t, b, s)
	assert.Equal(t, order.StatusNew, s.Status())

	ok, err := b.Cancel(s)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, order.StatusCancelled, s.Status())
	assert.False(t, b.IsPending(s))

	// A second cancel is a no-op, not an error.
	ok, err = b.Cancel(s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveKeepsStatus(t *testing.T) {
	b := newBook()
	s := sellAt(t, 1, 20.30)
	submitAll(t, b, s)

	assert.True(t, b.Remove(s))
	assert.Equal(t, order.StatusNew, s.Status())
	assert.False(t, b.Remove(s))
}

func TestFullMatchClearsBothSides(t *testing.T) {
	b := newBook()
	s := sellAt(t, 1, 20.25)
	buy := buyAt(t, 1, 20.30)
	submitAll(t, b, s, buy)

	touched, err := b.MatchAll()
	require.NoError(t, err)

	assert.Len(t, touched, 2)
	assert.Equal(t, order.StatusExecuted, s.Status())
	assert.Equal(t, order.StatusExecuted, buy.Status())
	buys, sells := b.Depth()
	assert.Zero(t, buys)
	assert.Zero(t, sells)
}

func TestPartialMatchLeavesRemainderAtHead(t *testing.T) {
	b := newBook()
	s := sellAt(t, 1, 20.25)
	buy := buyAt(t, 2, 20.30)
	submitAll(t, b, s, buy)

	_, err := b.MatchAll()
	require.NoError(t, err)

	assert.Equal(t, order.StatusExecuted, s.Status())
	assert.Equal(t, order.StatusPending, buy.Status())
	assert.Equal(t, int64(100), buy.Quantity())

	head, ok := b.PeekBuy()
	require.True(t, ok)
	assert.True(t, buy.Equal(head), "remainder still rests at the head of the buy queue")
}

func TestEqualPricesDoNotCross(t *testing.T) {
	b := newBook()
	s := sellAt(t, 1, 20.25)
	buy := buyAt(t, 1, 20.25)
	submitAll(t, b, s, buy)

	touched, err := b.MatchAll()
	require.NoError(t, err)

	assert.Empty(t, touched)
	assert.True(t, b.IsPending(s))
	assert.True(t, b.IsPending(buy))
}

func TestMatchOneSettlesExactlyOneTrade(t *testing.T) {
	b := newBook()
	s1 := sellAt(t, 1, 20.25)
	s2 := sellAt(t, 1, 20.30)
	buy := buyAt(t, 1, 20.35)
	submitAll(t, b, s1, s2, buy)

	require.NoError(t, b.MatchOne())

	assert.Equal(t, order.StatusExecuted, s1.Status())
	assert.Equal(t, order.StatusExecuted, buy.Status())
	assert.Equal(t, order.StatusNew, s2.Status())
	_, sells := b.Depth()
	assert.Equal(t, 1, sells)
}

func TestSettleNotifiesBothParties(t *testing.T) {
	b := newBook()
	sellCP := &recordingParty{}
	buyCP := &recordingParty{}
	s := sellAt(t, 1, 20.25)
	s.SetCounterParty(sellCP)
	buy := buyAt(t, 2, 20.30)
	buy.SetCounterParty(buyCP)
	submitAll(t, b, s, buy)

	_, err := b.MatchAll()
	require.NoError(t, err)

	sellCalls := sellCP.recorded()
	require.Len(t, sellCalls, 1)
	assert.Equal(t, int64(100), sellCalls[0].filled)

	buyCalls := buyCP.recorded()
	require.Len(t, buyCalls, 1)
	assert.Equal(t, int64(100), buyCalls[0].filled)
	assert.Equal(t, order.StatusPending, buyCalls[0].order.Status())
}

// Scenario from the shipped booking session:
//
//	sells 20.30/100, 20.25/100, 20.30/200 resting, buys 20.15/100, 20.15/200
//	resting, then an aggressive buy of 300 at 20.35.
//
// The buy sweeps 100 at 20.25, then 100 at 20.30, then 100 off the 200-share
// sell, leaving it pending with 100 open.
func TestMatchAllSweepScenario(t *testing.T) {
	b := newBook()
	s1 := sellAt(t, 1, 20.30)
	s2 := sellAt(t, 1, 20.25)
	s3 := sellAt(t, 2, 20.30)
	b1 := buyAt(t, 1, 20.15)
	b3 := buyAt(t, 2, 20.15)
	submitAll(t, b, s1, s2, s3, b1, b3)

	touched, err := b.MatchAll()
	require.NoError(t, err)
	assert.Empty(t, touched, "nothing crosses yet")

	aggressive := buyAt(t, 3, 20.35)
	submitAll(t, b, aggressive)

	touched, err = b.MatchAll()
	require.NoError(t, err)

	assert.Len(t, touched, 4)
	assert.Equal(t, order.StatusExecuted, s2.Status())
	assert.Equal(t, order.StatusExecuted, s1.Status())
	assert.Equal(t, order.StatusExecuted, aggressive.Status())
	assert.Equal(t, order.StatusPending, s3.Status())
	assert.Equal(t, int64(100), s3.Quantity())

	head, ok := b.PeekSell()
	require.True(t, ok)
	assert.True(t, s3.Equal(head))

	// The non-crossing buys were never touched.
	assert.Equal(t, order.StatusNew, b1.Status())
	assert.Equal(t, order.StatusNew, b3.Status())
	buys, sells := b.Depth()
	assert.Equal(t, 2, buys)
	assert.Equal(t, 1, sells)
}

// Pop order must be a function of the set of resting orders alone, not of
// the thread interleaving that built it. Eight goroutines submit distinct
// price levels, eight more cancel every other one, and the survivors must
// still pop in strict price order.
func TestConcurrentSubmitCancelPopOrder(t *testing.T) {
	b := newBook()

	const workers = 8
	const perWorker = 10
	batches := make([][]*order.Order, workers)
	for w := range batches {
		batches[w] = make([]*order.Order, perWorker)
		for i := range batches[w] {
			price := 20.0 + 0.01*float64(w*perWorker+i)
			batches[w][i] = sellAt(t, 1, price)
		}
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(batch []*order.Order) {
			defer wg.Done()
			for _, o := range batch {
				assert.NoError(t, b.Submit(o))
			}
		}(batches[w])
	}
	wg.Wait()

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(batch []*order.Order) {
			defer wg.Done()
			for i, o := range batch {
				if i%2 == 1 {
					ok, err := b.Cancel(o)
					assert.NoError(t, err)
					assert.True(t, ok)
				}
			}
		}(batches[w])
	}
	wg.Wait()

	var popped []*order.Order
	for {
		o, ok := b.PopSell()
		if !ok {
			break
		}
		popped = append(popped, o)
	}
	require.Len(t, popped, workers*perWorker/2)
	last := 0.0
	for _, o := range popped {
		assert.Greater(t, o.Price(), last, "strictly ascending price, cancelled levels skipped")
		assert.Equal(t, order.StatusNew, o.Status())
		last = o.Price()
	}
}

func TestDeactivate(t *testing.T) {
	b := newBook()
	s := sellAt(t, 1, 20.30)
	submitAll(t, b, s)

	b.Deactivate()

	buys, sells := b.Depth()
	assert.Zero(t, buys)
	assert.Zero(t, sells)
	// A hard stop: resting orders vanish without a status change.
	assert.Equal(t, order.StatusNew, s.Status())

	assert.ErrorIs(t, b.Submit(sellAt(t, 1, 20.30)), book.ErrNotActive)

	_, err := b.Cancel(s)
	assert.ErrorIs(t, err, book.ErrNotActive)

	_, err = b.MatchAll()
	assert.ErrorIs(t, err, book.ErrNotActive)
	assert.ErrorIs(t, b.MatchOne(), book.ErrNotActive)

	_, ok := b.PeekSell()
	assert.False(t, ok, "peek stays a read-only probe")
}
