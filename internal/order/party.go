package order

import (
	"github.com/rs/zerolog"
)

// CounterParty receives a callback once per settlement step its order took
// part in, including rejection. Callbacks run inline on the thread holding
// the match lock (or the submitting thread, for rejection) and must not
// block.
type CounterParty interface {
	OrderStatus(o *Order, filled int64, msg string)
}

// Party is the default CounterParty: it logs every status callback.
type Party struct {
	name string
	log  zerolog.Logger
}

func NewParty(name string, log zerolog.Logger) *Party {
	return &Party{
		name: name,
		log:  log.With().Str("party", name).Logger(),
	}
}

func (p *Party) OrderStatus(o *Order, filled int64, msg string) {
	p.log.Info().
		Int64("filled", filled).
		Stringer("status", o.Status()).
		Msg(msg)
}

func (p *Party) String() string {
	return p.name
}
