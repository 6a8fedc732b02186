// Package events decodes payment gateway events and applies them to the
// orders and payments store.
package events

import (
	"fmt"
	"math/big"
	"sync"

	"paysync/internal/felt"
	"paysync/internal/model"
)

const (
	NamePaymentCreated   = "PaymentCreated"
	NamePaymentCompleted = "PaymentCompleted"
)

// Kind names a decoded event variant.
type Kind string

const (
	KindPaymentCreated   Kind = NamePaymentCreated
	KindPaymentCompleted Kind = NamePaymentCompleted
	KindUnknown          Kind = "Unknown"
)

// Event is the closed set of decoded variants: *PaymentCreated,
// *PaymentCompleted and *Unknown.
type Event interface {
	Kind() Kind
	sealed()
}

// PaymentCreated is emitted when a customer funds a payment.
// Keys: [selector, id_low, id_high, merchant, customer].
// Data: [amount_low, amount_high, metadata, timestamp].
type PaymentCreated struct {
	PaymentID  *big.Int
	Merchant   string
	Customer   string
	Amount     *big.Int
	MetadataID string
	Timestamp  uint64
}

// PaymentCompleted is emitted when funds are released to the merchant.
// Keys: [selector, id_low, id_high, merchant].
// Data: [amount_low, amount_high, fee_low, fee_high, timestamp].
type PaymentCompleted struct {
	PaymentID        *big.Int
	Merchant         string
	AmountToMerchant *big.Int
	Fee              *big.Int
	Timestamp        uint64
}

// Unknown is any event without keys or with an unrecognised selector.
type Unknown struct {
	Selector string
}

func (*PaymentCreated) Kind() Kind   { return KindPaymentCreated }
func (*PaymentCompleted) Kind() Kind { return KindPaymentCompleted }
func (*Unknown) Kind() Kind          { return KindUnknown }

func (*PaymentCreated) sealed()   {}
func (*PaymentCompleted) sealed() {}
func (*Unknown) sealed()          {}

var (
	selectorsOnce sync.Once
	selectorKinds map[string]Kind
)

func selectors() map[string]Kind {
	selectorsOnce.Do(func() {
		selectorKinds = map[string]Kind{
			selectorKey(felt.Selector(NamePaymentCreated)):   KindPaymentCreated,
			selectorKey(felt.Selector(NamePaymentCompleted)): KindPaymentCompleted,
		}
	})
	return selectorKinds
}

func selectorKey(value *big.Int) string {
	return value.Text(16)
}

// Selectors returns the precomputed selector of every known event, keyed by
// event name, in 0x-prefixed hex.
func Selectors() map[string]string {
	out := make(map[string]string, len(selectors()))
	for key, kind := range selectors() {
		out[string(kind)] = "0x" + key
	}
	return out
}

// Decode classifies raw by keys[0] and decodes its fields. Events without
// keys or with an unknown selector decode to *Unknown without error.
func Decode(raw model.RawEvent) (Event, error) {
	if raw.Selector() == "" {
		return &Unknown{}, nil
	}
	selector, err := felt.Parse(raw.Selector())
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}

	switch selectors()[selectorKey(selector)] {
	case KindPaymentCreated:
		return decodePaymentCreated(raw)
	case KindPaymentCompleted:
		return decodePaymentCompleted(raw)
	default:
		return &Unknown{Selector: raw.Selector()}, nil
	}
}

func decodePaymentCreated(raw model.RawEvent) (*PaymentCreated, error) {
	if len(raw.Keys) < 3 {
		return nil, fmt.Errorf("%s: expected at least 3 keys, got %d", NamePaymentCreated, len(raw.Keys))
	}
	if len(raw.Data) < 3 {
		return nil, fmt.Errorf("%s: expected at least 3 data fields, got %d", NamePaymentCreated, len(raw.Data))
	}

	paymentID, err := felt.ParseU256(raw.Keys[1], raw.Keys[2])
	if err != nil {
		return nil, fmt.Errorf("%s payment id: %w", NamePaymentCreated, err)
	}
	amount, err := felt.ParseU256(raw.Data[0], raw.Data[1])
	if err != nil {
		return nil, fmt.Errorf("%s amount: %w", NamePaymentCreated, err)
	}
	timestamp, err := optionalUint64(raw.Data, 3)
	if err != nil {
		return nil, fmt.Errorf("%s timestamp: %w", NamePaymentCreated, err)
	}

	return &PaymentCreated{
		PaymentID:  paymentID,
		Merchant:   optional(raw.Keys, 3),
		Customer:   optional(raw.Keys, 4),
		Amount:     amount,
		MetadataID: raw.Data[2],
		Timestamp:  timestamp,
	}, nil
}

func decodePaymentCompleted(raw model.RawEvent) (*PaymentCompleted, error) {
	if len(raw.Keys) < 3 {
		return nil, fmt.Errorf("%s: expected at least 3 keys, got %d", NamePaymentCompleted, len(raw.Keys))
	}
	if len(raw.Data) < 4 {
		return nil, fmt.Errorf("%s: expected at least 4 data fields, got %d", NamePaymentCompleted, len(raw.Data))
	}

	paymentID, err := felt.ParseU256(raw.Keys[1], raw.Keys[2])
	if err != nil {
		return nil, fmt.Errorf("%s payment id: %w", NamePaymentCompleted, err)
	}
	amount, err := felt.ParseU256(raw.Data[0], raw.Data[1])
	if err != nil {
		return nil, fmt.Errorf("%s amount: %w", NamePaymentCompleted, err)
	}
	fee, err := felt.ParseU256(raw.Data[2], raw.Data[3])
	if err != nil {
		return nil, fmt.Errorf("%s fee: %w", NamePaymentCompleted, err)
	}
	timestamp, err := optionalUint64(raw.Data, 4)
	if err != nil {
		return nil, fmt.Errorf("%s timestamp: %w", NamePaymentCompleted, err)
	}

	return &PaymentCompleted{
		PaymentID:        paymentID,
		Merchant:         optional(raw.Keys, 3),
		AmountToMerchant: amount,
		Fee:              fee,
		Timestamp:        timestamp,
	}, nil
}

func optional(values []string, idx int) string {
	if idx < len(values) {
		return values[idx]
	}
	return ""
}

func optionalUint64(values []string, idx int) (uint64, error) {
	if idx >= len(values) {
		return 0, nil
	}
	value, err := felt.Parse(values[idx])
	if err != nil {
		return 0, err
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("value does not fit in uint64: %s", values[idx])
	}
	return value.Uint64(), nil
}
