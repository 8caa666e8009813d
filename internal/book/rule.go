package book

import (
	"skarv/internal/order"
)

// MatchRule decides whether the best resting buy and sell cross. Both
// operands are non-nil: the book only evaluates the rule after peeking a
// best order off each side.
type MatchRule interface {
	Crosses(buy, sell *order.Order) bool
}

// LimitRule is the shipped rule: a cross requires the best buy price to be
// strictly greater than the best sell price. Orders priced exactly equal do
// not match.
type LimitRule struct{}

func (LimitRule) Crosses(buy, sell *order.Order) bool {
	return buy.Price() > sell.Price()
}
