package model

// OrderStatus is the lifecycle state of a marketplace order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusDisputed  OrderStatus = "DISPUTED"
)

// Order is the subset of an order row the reconciler reads and writes.
// OnChainID is the correlation token embedded in PaymentCreated metadata.
type Order struct {
	ID        string      `json:"id"`
	OnChainID string      `json:"on_chain_id"`
	SellerID  string      `json:"seller_id"`
	BuyerID   string      `json:"buyer_id"`
	Status    OrderStatus `json:"status"`
	PaymentID *string     `json:"payment_id,omitempty"`
}

// CanMarkPaid reports whether a completed payment may move the order to PAID.
// Orders that already moved past PAID are left alone on replays.
func (o Order) CanMarkPaid() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPaid
}
