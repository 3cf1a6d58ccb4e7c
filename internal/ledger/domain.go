package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementStockIn represents a manual inbound movement.
	MovementStockIn MovementKind = "STOCK_IN"
	// MovementStockOut represents a manual outbound movement.
	MovementStockOut MovementKind = "STOCK_OUT"
	// MovementAdjustment indicates a signed manual correction.
	MovementAdjustment MovementKind = "ADJUSTMENT"
	// MovementInvoiceSale is an outbound movement driven by an invoice line.
	MovementInvoiceSale MovementKind = "INVOICE_SALE"
	// MovementInvoiceReturn is an inbound movement driven by a return line.
	MovementInvoiceReturn MovementKind = "INVOICE_RETURN"
)

// ParseMovementKind validates a raw kind string.
func ParseMovementKind(raw string) (MovementKind, error) {
	kind := MovementKind(raw)
	switch kind {
	case MovementStockIn, MovementStockOut, MovementAdjustment, MovementInvoiceSale, MovementInvoiceReturn:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
}

// SignedDelta applies the kind-driven sign convention. Outbound kinds are
// forced negative and inbound kinds positive regardless of the sign the
// caller passed; adjustments keep the caller's sign exactly.
func (k MovementKind) SignedDelta(quantity float64) float64 {
	switch k {
	case MovementStockOut, MovementInvoiceSale:
		return -math.Abs(quantity)
	case MovementStockIn, MovementInvoiceReturn:
		return math.Abs(quantity)
	default:
		return quantity
	}
}

// Outbound reports whether the kind reduces stock.
func (k MovementKind) Outbound() bool {
	return k == MovementStockOut || k == MovementInvoiceSale
}

// ReferenceKind categorises what caused a movement.
type ReferenceKind string

const (
	// ReferenceOrder points at a sales or purchase document.
	ReferenceOrder ReferenceKind = "ORDER"
	// ReferenceManual marks a movement entered by hand.
	ReferenceManual ReferenceKind = "MANUAL"
	// ReferenceOpening marks an opening-balance entry.
	ReferenceOpening ReferenceKind = "OPENING"
)

// ParseReferenceKind validates a raw reference kind string.
func ParseReferenceKind(raw string) (ReferenceKind, error) {
	kind := ReferenceKind(raw)
	switch kind {
	case ReferenceOrder, ReferenceManual, ReferenceOpening:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
}

// Entry is one immutable record of a signed stock quantity change.
type Entry struct {
	ID            int64
	ItemCode      string
	Delta         float64
	Kind          MovementKind
	RefKind       ReferenceKind
	RefID         string
	BalanceBefore float64
	BalanceAfter  float64
	Note          string
	ActorID       int64
	PostedAt      time.Time
}

// Item is the stock item record the ledger posts against. CachedQty is a
// rebuildable projection of the ledger sum; BaselineQty is the legacy
// snapshot used only while an item has no ledger history.
type Item struct {
	Code        string
	CachedQty   float64
	BaselineQty float64
	UpdatedAt   time.Time
}

// AppendInput describes a movement to post.
type AppendInput struct {
	ItemCode string
	Quantity float64
	Kind     MovementKind
	RefKind  ReferenceKind
	RefID    string
	Note     string
	ActorID  int64
}

// StockWarning signals that an outbound movement drove the balance
// negative. It is advisory, never a failure.
type StockWarning struct {
	ItemCode     string
	BalanceAfter float64
}

// AppendResult returns the persisted entry plus an optional warning.
type AppendResult struct {
	Entry   Entry
	Warning *StockWarning
}

// HistoryFilter filters stock card entries.
type HistoryFilter struct {
	ItemCode string
	From     time.Time
	To       time.Time
	Limit    int
}

// RebuildResult reports a projection rebuild.
type RebuildResult struct {
	ItemCode string
	Previous float64
	Current  float64
	Diverged bool
}

// ErrInvalidKind indicates an unknown movement or reference kind.
var ErrInvalidKind = errors.New("ledger: invalid kind")

// ErrInvalidQuantity indicates a zero quantity delta.
var ErrInvalidQuantity = errors.New("ledger: quantity must be non zero")
