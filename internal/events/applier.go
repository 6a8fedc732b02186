package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paysync/internal/metrics"
	"paysync/internal/model"
	"paysync/internal/storage"
)

// Outcome is the result of applying one event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeFailed    Outcome = "failed"
)

// Store is the orders/payments surface the applier writes through.
type Store interface {
	FindOrderByOnChainID(ctx context.Context, onChainID string) (*model.Order, error)
	InsertPayment(ctx context.Context, payment *model.Payment) error
	GetPaymentByOnChainID(ctx context.Context, onChainID string) (*model.Payment, error)
	LinkOrderPayment(ctx context.Context, orderID, paymentID string) error
	CompletePayment(ctx context.Context, params storage.CompletePayment) (*model.Payment, error)
	MarkOrderPaid(ctx context.Context, orderID string) error
}

// ApplierConfig configures an Applier.
type ApplierConfig struct {
	// DeferPasses holds a PaymentCompleted whose payment is missing for up to
	// this many batches before dropping it. Zero drops immediately.
	DeferPasses int
	Clock       clock.Clock
	DeadLetter  storage.DeadLetterSink
	Logger      *zap.Logger
}

// BatchStats counts outcomes for one ApplyBatch call.
type BatchStats struct {
	Total       int
	Applied     int
	Duplicates  int
	Dropped     int
	Skipped     int
	Deferred    int
	Failed      int
	Resolved    int
	Interrupted bool
}

func (s *BatchStats) add(outcome Outcome) {
	switch outcome {
	case OutcomeApplied:
		s.Applied++
	case OutcomeDuplicate:
		s.Duplicates++
	case OutcomeDropped:
		s.Dropped++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeDeferred:
		s.Deferred++
	case OutcomeFailed:
		s.Failed++
	}
}

// errPaymentMissing marks a deferred completion whose payment is still absent.
var errPaymentMissing = errors.New("payment not found")

type deferredCompletion struct {
	raw       model.RawEvent
	event     *PaymentCompleted
	remaining int
}

// Applier applies decoded events to the store. Every mutation is idempotent,
// so re-applying a range after a crash is safe. An Applier is not safe for
// concurrent use; the poller runs one pass at a time.
type Applier struct {
	store       Store
	clock       clock.Clock
	deadLetter  storage.DeadLetterSink
	logger      *zap.Logger
	deferPasses int
	deferred    []deferredCompletion
	drops       []model.DroppedEvent
	newID       func() string
}

// NewApplier builds an Applier over store.
func NewApplier(store Store, cfg ApplierConfig) *Applier {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DeferPasses < 0 {
		cfg.DeferPasses = 0
	}
	return &Applier{
		store:       store,
		clock:       cfg.Clock,
		deadLetter:  cfg.DeadLetter,
		logger:      cfg.Logger,
		deferPasses: cfg.DeferPasses,
		newID:       uuid.NewString,
	}
}

// Apply decodes and applies a single event.
func (a *Applier) Apply(ctx context.Context, raw model.RawEvent) (Outcome, error) {
	outcome, err := a.apply(ctx, raw)
	a.flushDrops()
	return outcome, err
}

// ApplyBatch applies events in order. A failing event is logged with its
// transaction hash and never stops the batch. Deferred completions are
// retried once the batch is done. Only completions held from earlier
// batches count against the deferral limit.
func (a *Applier) ApplyBatch(ctx context.Context, batch []model.RawEvent) BatchStats {
	var stats BatchStats
	held := len(a.deferred)
	for _, raw := range batch {
		if ctx.Err() != nil {
			stats.Interrupted = true
			break
		}
		stats.Total++
		outcome, err := a.apply(ctx, raw)
		if err != nil {
			a.logger.Error("apply event failed", append(eventFields(raw), zap.Error(err))...)
			a.drop(raw, kindOf(raw), OutcomeFailed, err.Error())
		}
		stats.add(outcome)
	}
	if !stats.Interrupted {
		stats.Resolved = a.retryDeferred(ctx, held)
	}
	a.flushDrops()
	return stats
}

// Pending returns the number of deferred completions.
func (a *Applier) Pending() int {
	return len(a.deferred)
}

func (a *Applier) apply(ctx context.Context, raw model.RawEvent) (Outcome, error) {
	event, err := Decode(raw)
	if err != nil {
		metrics.AppliedEvents.WithLabelValues(string(KindUnknown), string(OutcomeFailed)).Inc()
		return OutcomeFailed, fmt.Errorf("decode: %w", err)
	}

	var outcome Outcome
	switch ev := event.(type) {
	case *PaymentCreated:
		outcome, err = a.applyCreated(ctx, raw, ev)
	case *PaymentCompleted:
		outcome, err = a.applyCompleted(ctx, raw, ev, true)
	default:
		a.logger.Debug("skip unknown event", eventFields(raw)...)
		outcome = OutcomeSkipped
	}
	metrics.AppliedEvents.WithLabelValues(string(event.Kind()), string(outcome)).Inc()
	return outcome, err
}

func (a *Applier) applyCreated(ctx context.Context, raw model.RawEvent, ev *PaymentCreated) (Outcome, error) {
	fields := append(eventFields(raw), zap.String("kind", string(KindPaymentCreated)), zap.String("payment_id", ev.PaymentID.String()))

	order, err := a.findOrder(ctx, ev.MetadataID)
	if errors.Is(err, storage.ErrNotFound) {
		a.logger.Warn("no order for payment metadata", append(fields, zap.String("metadata_id", ev.MetadataID))...)
		a.drop(raw, KindPaymentCreated, OutcomeDropped, "order not found for metadata "+ev.MetadataID)
		return OutcomeDropped, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("find order %s: %w", ev.MetadataID, err)
	}

	orderID := order.ID
	payment := &model.Payment{
		ID:         a.newID(),
		OnChainID:  ev.PaymentID.String(),
		MerchantID: order.SellerID,
		CustomerID: order.BuyerID,
		Amount:     decimal.NewFromBigInt(ev.Amount, 0),
		Fee:        decimal.Zero,
		Status:     model.PaymentStatusPending,
		OrderID:    &orderID,
		CreatedAt:  a.clock.Now().UTC(),
	}

	outcome := OutcomeApplied
	err = a.store.InsertPayment(ctx, payment)
	if errors.Is(err, storage.ErrDuplicate) {
		existing, getErr := a.store.GetPaymentByOnChainID(ctx, payment.OnChainID)
		if getErr != nil {
			return OutcomeFailed, fmt.Errorf("load duplicate payment %s: %w", payment.OnChainID, getErr)
		}
		payment = existing
		outcome = OutcomeDuplicate
		a.logger.Debug("payment already recorded", fields...)
	} else if err != nil {
		return OutcomeFailed, fmt.Errorf("insert payment %s: %w", payment.OnChainID, err)
	}

	if payment.OrderID != nil {
		if err := a.store.LinkOrderPayment(ctx, *payment.OrderID, payment.ID); err != nil {
			return OutcomeFailed, fmt.Errorf("link order %s: %w", *payment.OrderID, err)
		}
	}

	if outcome == OutcomeApplied {
		a.logger.Info("payment created", append(fields, zap.String("order_id", orderID), zap.String("amount", payment.Amount.String()))...)
	}
	return outcome, nil
}

// findOrder matches the metadata token verbatim, then falls back to the bare
// hex digits orders are created with.
func (a *Applier) findOrder(ctx context.Context, token string) (*model.Order, error) {
	var lastErr error
	for _, candidate := range correlationCandidates(token) {
		order, err := a.store.FindOrderByOnChainID(ctx, candidate)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func correlationCandidates(token string) []string {
	candidates := []string{token}
	if !strings.HasPrefix(token, "0x") && !strings.HasPrefix(token, "0X") {
		return candidates
	}
	digits := strings.ToLower(token[2:])
	if digits == "" {
		return candidates
	}
	candidates = append(candidates, digits)
	if len(digits)%2 == 1 {
		candidates = append(candidates, "0"+digits)
	}
	return candidates
}

func (a *Applier) applyCompleted(ctx context.Context, raw model.RawEvent, ev *PaymentCompleted, canDefer bool) (Outcome, error) {
	onChainID := ev.PaymentID.String()
	fields := append(eventFields(raw), zap.String("kind", string(KindPaymentCompleted)), zap.String("payment_id", onChainID))

	fee := decimal.NewFromBigInt(ev.Fee, 0)
	payment, err := a.store.CompletePayment(ctx, storage.CompletePayment{
		OnChainID:   onChainID,
		Fee:         &fee,
		ConfirmedAt: a.clock.Now().UTC(),
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if canDefer && a.deferPasses > 0 {
			a.deferred = append(a.deferred, deferredCompletion{raw: raw, event: ev, remaining: a.deferPasses})
			metrics.DeferredCompletions.Set(float64(len(a.deferred)))
			a.logger.Info("payment not found, deferring completion", append(fields, zap.Int("passes", a.deferPasses))...)
			return OutcomeDeferred, nil
		}
		if !canDefer {
			return OutcomeDropped, errPaymentMissing
		}
		a.logger.Warn("payment not found for completion", fields...)
		a.drop(raw, KindPaymentCompleted, OutcomeDropped, "payment not found")
		return OutcomeDropped, nil
	case errors.Is(err, storage.ErrInvalidTransition):
		a.logger.Warn("payment cannot complete from its current status", append(fields, zap.Error(err))...)
		a.drop(raw, KindPaymentCompleted, OutcomeDropped, err.Error())
		return OutcomeDropped, nil
	case err != nil:
		return OutcomeFailed, fmt.Errorf("complete payment %s: %w", onChainID, err)
	}

	if payment.OrderID != nil {
		err := a.store.MarkOrderPaid(ctx, *payment.OrderID)
		switch {
		case errors.Is(err, storage.ErrInvalidTransition):
			a.logger.Info("order already past PAID", append(fields, zap.String("order_id", *payment.OrderID))...)
		case errors.Is(err, storage.ErrNotFound):
			a.logger.Warn("linked order missing", append(fields, zap.String("order_id", *payment.OrderID))...)
		case err != nil:
			return OutcomeFailed, fmt.Errorf("mark order %s paid: %w", *payment.OrderID, err)
		}
	}

	a.logger.Info("payment completed", append(fields, zap.String("fee", fee.String()))...)
	return OutcomeApplied, nil
}

// retryDeferred re-applies held completions and returns how many landed.
// The first held items come from earlier batches and use up one of their
// remaining passes when they fail again.
func (a *Applier) retryDeferred(ctx context.Context, held int) int {
	if len(a.deferred) == 0 {
		return 0
	}

	resolved := 0
	kept := a.deferred[:0]
	for i, item := range a.deferred {
		outcome, err := a.applyCompleted(ctx, item.raw, item.event, false)
		if err == nil {
			if outcome == OutcomeApplied {
				resolved++
				metrics.AppliedEvents.WithLabelValues(string(KindPaymentCompleted), string(OutcomeApplied)).Inc()
			}
			continue
		}

		if !errors.Is(err, errPaymentMissing) {
			a.logger.Error("retry deferred completion failed", append(eventFields(item.raw), zap.Error(err))...)
		}
		if i < held {
			item.remaining--
		}
		if item.remaining <= 0 {
			a.logger.Warn("dropping deferred completion",
				append(eventFields(item.raw), zap.String("payment_id", item.event.PaymentID.String()), zap.Error(err))...)
			a.drop(item.raw, KindPaymentCompleted, OutcomeDropped, "payment not completed after deferral: "+err.Error())
			continue
		}
		kept = append(kept, item)
	}
	a.deferred = kept
	metrics.DeferredCompletions.Set(float64(len(a.deferred)))
	return resolved
}

func (a *Applier) drop(raw model.RawEvent, kind Kind, outcome Outcome, reason string) {
	if a.deadLetter == nil {
		return
	}
	a.drops = append(a.drops, model.DroppedEvent{
		BlockNumber:     raw.BlockNumber,
		TransactionHash: raw.TransactionHash,
		Kind:            string(kind),
		Outcome:         string(outcome),
		Reason:          reason,
		Keys:            raw.Keys,
		Data:            raw.Data,
		DroppedAt:       a.clock.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (a *Applier) flushDrops() {
	if a.deadLetter == nil || len(a.drops) == 0 {
		return
	}
	if err := a.deadLetter.PutDroppedBatch(a.drops); err != nil {
		a.logger.Error("write dead letter failed", zap.Int("events", len(a.drops)), zap.Error(err))
	}
	a.drops = nil
}

func kindOf(raw model.RawEvent) Kind {
	event, err := Decode(raw)
	if err != nil {
		return KindUnknown
	}
	return event.Kind()
}

func eventFields(raw model.RawEvent) []zap.Field {
	return []zap.Field{
		zap.String("tx_hash", raw.TransactionHash),
		zap.Uint64("block_number", raw.BlockNumber),
	}
}
