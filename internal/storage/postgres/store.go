package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"paysync/internal/model"
	"paysync/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const paymentColumns = `id, on_chain_id, merchant_id, customer_id, amount::text, fee::text, status, order_id, confirmed_at, created_at`

const orderColumns = `id, on_chain_id, seller_id, buyer_id, status, payment_id`

// Store provides Postgres persistence for orders, payments and cursor state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables the reconciler needs if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertOrder stores an order row. Orders are normally created by the API;
// this exists for fixtures and backfills.
func (s *Store) InsertOrder(ctx context.Context, order *model.Order) error {
	status := order.Status
	if status == "" {
		status = model.OrderStatusPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, on_chain_id, seller_id, buyer_id, status, payment_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
	`, order.ID, order.OnChainID, order.SellerID, order.BuyerID, string(status), order.PaymentID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert order %s: %w", order.ID, storage.ErrDuplicate)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder loads an order by id.
func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

// FindOrderByOnChainID loads the order whose correlation token equals onChainID.
func (s *Store) FindOrderByOnChainID(ctx context.Context, onChainID string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE on_chain_id=$1`, onChainID)
	return scanOrder(row)
}

// LinkOrderPayment sets orders.payment_id if it is still empty.
func (s *Store) LinkOrderPayment(ctx context.Context, orderID, paymentID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE orders SET payment_id=$2, updated_at=now()
		WHERE id=$1 AND payment_id IS NULL
	`, orderID, paymentID)
	if err != nil {
		return fmt.Errorf("link order payment: %w", err)
	}
	return nil
}

// MarkOrderPaid moves an order to PAID. Orders already past PAID are rejected
// with storage.ErrInvalidTransition.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status IN ($3, $2)
	`, orderID, string(model.OrderStatusPaid), string(model.OrderStatusPending))
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return fmt.Errorf("order %s is %s: %w", orderID, order.Status, storage.ErrInvalidTransition)
}

// InsertPayment stores a new payment. A second row for the same on_chain_id
// yields storage.ErrDuplicate.
func (s *Store) InsertPayment(ctx context.Context, payment *model.Payment) error {
	createdAt := payment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (
			id, on_chain_id, merchant_id, customer_id, amount, fee, status, order_id, confirmed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8, $9, $10, now())
	`,
		payment.ID,
		payment.OnChainID,
		payment.MerchantID,
		payment.CustomerID,
		payment.Amount.String(),
		payment.Fee.String(),
		string(payment.Status),
		payment.OrderID,
		payment.ConfirmedAt,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert payment %s: %w", payment.OnChainID, storage.ErrDuplicate)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPaymentByOnChainID loads a payment by its ledger id.
func (s *Store) GetPaymentByOnChainID(ctx context.Context, onChainID string) (*model.Payment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE on_chain_id=$1`, onChainID)
	return scanPayment(row)
}

// CompletePayment marks a PENDING or COMPLETED payment as COMPLETED and returns
// the updated row. confirmed_at keeps its first value on replays.
func (s *Store) CompletePayment(ctx context.Context, params storage.CompletePayment) (*model.Payment, error) {
	var fee *string
	if params.Fee != nil {
		value := params.Fee.String()
		fee = &value
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE payments SET
			status = $2,
			confirmed_at = COALESCE(confirmed_at, $3),
			fee = COALESCE($4::text::numeric, fee),
			updated_at = now()
		WHERE on_chain_id = $1 AND status IN ($2, $5)
		RETURNING `+paymentColumns,
		params.OnChainID,
		string(model.PaymentStatusCompleted),
		params.ConfirmedAt,
		fee,
		string(model.PaymentStatusPending),
	)
	payment, err := scanPayment(row)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("complete payment: %w", err)
	}

	existing, err := s.GetPaymentByOnChainID(ctx, params.OnChainID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("payment %s is %s: %w", params.OnChainID, existing.Status, storage.ErrInvalidTransition)
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		order     model.Order
		onChainID *string
		status    string
	)
	if err := row.Scan(&order.ID, &onChainID, &order.SellerID, &order.BuyerID, &status, &order.PaymentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if onChainID != nil {
		order.OnChainID = *onChainID
	}
	order.Status = model.OrderStatus(status)
	return &order, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		payment     model.Payment
		amount, fee string
		status      string
	)
	err := row.Scan(
		&payment.ID,
		&payment.OnChainID,
		&payment.MerchantID,
		&payment.CustomerID,
		&amount,
		&fee,
		&status,
		&payment.OrderID,
		&payment.ConfirmedAt,
		&payment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	if payment.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if payment.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	payment.Status = model.PaymentStatus(status)
	return &payment, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
