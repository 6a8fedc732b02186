// Package memory is an in-process implementation of the reconciler store with
// the same uniqueness and transition rules as the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paysync/internal/model"
	"paysync/internal/storage"
)

// Store keeps orders, payments and cursor state in maps.
type Store struct {
	mu       sync.RWMutex
	orders   map[string]model.Order
	payments map[string]model.Payment
	state    map[string]uint64
}

func NewStore() *Store {
	return &Store{
		orders:   make(map[string]model.Order),
		payments: make(map[string]model.Payment),
		state:    make(map[string]uint64),
	}
}

func (s *Store) InsertOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("insert order %s: %w", order.ID, storage.ErrDuplicate)
	}
	for _, existing := range s.orders {
		if order.OnChainID != "" && existing.OnChainID == order.OnChainID {
			return fmt.Errorf("insert order %s: %w", order.ID, storage.ErrDuplicate)
		}
	}
	stored := *order
	if stored.Status == "" {
		stored.Status = model.OrderStatusPending
	}
	s.orders[order.ID] = stored
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &order, nil
}

func (s *Store) FindOrderByOnChainID(_ context.Context, onChainID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.orders {
		if order.OnChainID == onChainID {
			found := order
			return &found, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) LinkOrderPayment(_ context.Context, orderID, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.PaymentID != nil {
		return nil
	}
	id := paymentID
	order.PaymentID = &id
	s.orders[orderID] = order
	return nil
}

func (s *Store) MarkOrderPaid(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return storage.ErrNotFound
	}
	if !order.CanMarkPaid() {
		return fmt.Errorf("order %s is %s: %w", orderID, order.Status, storage.ErrInvalidTransition)
	}
	order.Status = model.OrderStatusPaid
	s.orders[orderID] = order
	return nil
}

func (s *Store) InsertPayment(_ context.Context, payment *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[payment.OnChainID]; ok {
		return fmt.Errorf("insert payment %s: %w", payment.OnChainID, storage.ErrDuplicate)
	}
	stored := *payment
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.payments[payment.OnChainID] = stored
	return nil
}

func (s *Store) GetPaymentByOnChainID(_ context.Context, onChainID string) (*model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[onChainID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &payment, nil
}

func (s *Store) CompletePayment(_ context.Context, params storage.CompletePayment) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[params.OnChainID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !payment.Status.CanTransition(model.PaymentStatusCompleted) {
		return nil, fmt.Errorf("payment %s is %s: %w", params.OnChainID, payment.Status, storage.ErrInvalidTransition)
	}

	payment.Status = model.PaymentStatusCompleted
	if payment.ConfirmedAt == nil {
		confirmedAt := params.ConfirmedAt
		payment.ConfirmedAt = &confirmedAt
	}
	if params.Fee != nil {
		payment.Fee = *params.Fee
	}
	s.payments[params.OnChainID] = payment
	return &payment, nil
}

// PaymentCount returns the number of stored payments.
func (s *Store) PaymentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments)
}

func (s *Store) LoadState(_ context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.state[name]
	return block, ok, nil
}

func (s *Store) SaveState(_ context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[name] = block
	return nil
}
