package services

import (
	"errors"
	"fmt"
	"strings"
)

// PickupMethodID is the shipping method collected in store; it needs no address.
const PickupMethodID = "pickup"

// ShippingMethod is one configured shipping option.
type ShippingMethod struct {
	ID    string
	Label string
	Cost  int64
}

type shippingRates struct {
	order   []string
	methods map[string]ShippingQuote
}

// NewShippingRates builds a table of server-side shipping costs. Method ids are
// case-insensitive.
func NewShippingRates(methods []ShippingMethod) (ShippingRates, error) {
	if len(methods) == 0 {
		return nil, errors.New("shipping rates: at least one method is required")
	}
	rates := &shippingRates{methods: make(map[string]ShippingQuote, len(methods))}
	for _, m := range methods {
		id := strings.ToLower(strings.TrimSpace(m.ID))
		if id == "" {
			return nil, errors.New("shipping rates: method id is required")
		}
		if m.Cost < 0 {
			return nil, fmt.Errorf("shipping rates: method %s has negative cost", id)
		}
		if _, dup := rates.methods[id]; dup {
			return nil, fmt.Errorf("shipping rates: duplicate method %s", id)
		}
		label := strings.TrimSpace(m.Label)
		if label == "" {
			label = id
		}
		rates.methods[id] = ShippingQuote{
			MethodID:        id,
			Label:           label,
			Cost:            m.Cost,
			RequiresAddress: id != PickupMethodID,
		}
		rates.order = append(rates.order, id)
	}
	return rates, nil
}

func (r *shippingRates) Quote(methodID string) (ShippingQuote, error) {
	id := strings.ToLower(strings.TrimSpace(methodID))
	if id == "" {
		return ShippingQuote{}, fmt.Errorf("%w: shipping method is required", ErrOrderInvalidInput)
	}
	quote, ok := r.methods[id]
	if !ok {
		return ShippingQuote{}, fmt.Errorf("%w: unknown shipping method %q", ErrOrderInvalidInput, methodID)
	}
	return quote, nil
}

func (r *shippingRates) Methods() []ShippingQuote {
	out := make([]ShippingQuote, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.methods[id])
	}
	return out
}
