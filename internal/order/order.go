package order

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidPrice    = errors.New("order price must be positive")
	ErrInvalidQuantity = errors.New("order quantity must be positive")
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Status is the order lifecycle state. Executed, Rejected and Cancelled are
// terminal; Pending may persist across multiple partial fills.
type Status int32

const (
	StatusNew Status = iota
	StatusPending
	StatusExecuted
	StatusRejected
	StatusCancelled
)

var statusName = map[Status]string{
	StatusNew:       "NEW",
	StatusPending:   "PENDING",
	StatusExecuted:  "EXECUTED",
	StatusRejected:  "REJECTED",
	StatusCancelled: "CANCELLED",
}

func (s Status) String() string {
	return statusName[s]
}

// Order is a resting limit order on one side of a book. Identity is the id
// alone; price, side, instrument and lot size are fixed at construction, while
// quantity, status and the submission stamp are mutated by the owning book.
//
// Quantity and status live in atomic cells because caller-held references may
// be read while the matching task mutates the order under the book lock.
type Order struct {
	id         uuid.UUID
	instrument string
	side       Side
	price      float64
	lotSize    int64
	quantity   atomic.Int64
	status     atomic.Int32
	party      CounterParty
	submitted  time.Time
	seq        uint64
}

// NewBuy creates a buy order for qty lots. The open quantity is qty*lot.
func NewBuy(instrument string, qty int64, price float64, lot int64) (*Order, error) {
	return newOrder(instrument, Buy, qty, price, lot)
}

// NewSell creates a sell order for qty lots. The open quantity is qty*lot.
func NewSell(instrument string, qty int64, price float64, lot int64) (*Order, error) {
	return newOrder(instrument, Sell, qty, price, lot)
}

func newOrder(instrument string, side Side, qty int64, price float64, lot int64) (*Order, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: %g", ErrInvalidPrice, price)
	}
	if qty*lot <= 0 {
		return nil, fmt.Errorf("%w: %d lots of %d", ErrInvalidQuantity, qty, lot)
	}
	o := &Order{
		id:         uuid.New(),
		instrument: instrument,
		side:       side,
		price:      price,
		lotSize:    lot,
		submitted:  time.Now(),
	}
	o.quantity.Store(qty * lot)
	o.status.Store(int32(StatusNew))
	return o, nil
}

func (o *Order) ID() uuid.UUID              { return o.id }
func (o *Order) Instrument() string         { return o.instrument }
func (o *Order) Side() Side                 { return o.side }
func (o *Order) Price() float64             { return o.price }
func (o *Order) LotSize() int64             { return o.lotSize }
func (o *Order) Submitted() time.Time       { return o.submitted }
func (o *Order) Quantity() int64            { return o.quantity.Load() }
func (o *Order) Status() Status             { return Status(o.status.Load()) }
func (o *Order) SetStatus(s Status)         { o.status.Store(int32(s)) }
func (o *Order) CounterParty() CounterParty { return o.party }

// SetCounterParty attaches the party to notify on settlement and rejection.
func (o *Order) SetCounterParty(cp CounterParty) { o.party = cp }

// MarkSubmitted stamps the submission time and the book-local sequence number.
// The book calls this on every successful submission, so resubmitting an order
// resets its time priority.
func (o *Order) MarkSubmitted(at time.Time, seq uint64) {
	o.submitted = at
	o.seq = seq
}

// Reduce decrements the open quantity after a partial fill.
func (o *Order) Reduce(qty int64) {
	o.quantity.Add(-qty)
}

// Equal reports identity: two orders are the same order iff their ids match.
func (o *Order) Equal(other *Order) bool {
	return other != nil && o.id == other.id
}

func (o *Order) String() string {
	party := "NA"
	if o.party != nil {
		party = fmt.Sprint(o.party)
	}
	return fmt.Sprintf("[%s,%s,%s,%d,%g,%s,%s]",
		party, o.instrument, o.side, o.Quantity(), o.price, o.Status(), o.id)
}

// LessBuy ranks buy orders: highest price first, then earliest submission,
// then smallest open quantity, then submission sequence. The sequence keeps
// the order strict, so fully tied orders pop in submission order.
func LessBuy(a, b *Order) bool {
	if a.price != b.price {
		return a.price > b.price
	}
	return lessTie(a, b)
}

// LessSell ranks sell orders: lowest price first, ties as in LessBuy.
func LessSell(a, b *Order) bool {
	if a.price != b.price {
		return a.price < b.price
	}
	return lessTie(a, b)
}

func lessTie(a, b *Order) bool {
	if !a.submitted.Equal(b.submitted) {
		return a.submitted.Before(b.submitted)
	}
	if qa, qb := a.Quantity(), b.Quantity(); qa != qb {
		return qa < qb
	}
	return a.seq < b.seq
}
