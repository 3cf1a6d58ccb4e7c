package ar

import (
	"time"
)

// DefaultTolerance is the band within which an invoice counts as settled.
const DefaultTolerance = 0.01

// PaymentApplication is the slice of a receipt applied to one invoice.
// Applications whose parent receipt is excluded (soft-deleted) never
// count towards the paid total.
type PaymentApplication struct {
	ID         int64
	ReceiptNo  string
	InvoiceRef string
	Amount     float64
	Method     string
	Note       string
	Excluded   bool
	PaidAt     time.Time
	CreatedAt  time.Time
}

// PaymentInput records a new application.
type PaymentInput struct {
	ReceiptNo  string
	InvoiceRef string
	Amount     float64
	Method     string
	Note       string
	PaidAt     time.Time
	ActorID    int64
}

// OutstandingInvoice is one row of the unpaid-invoice view.
type OutstandingInvoice struct {
	RefNo        string    `json:"ref_no"`
	CustomerCode string    `json:"customer_code"`
	Date         time.Time `json:"date"`
	AdjustedNet  float64   `json:"adjusted_net"`
	Paid         float64   `json:"paid"`
	Outstanding  float64   `json:"outstanding"`
}

// AgingBucket summarises outstanding totals by age.
type AgingBucket struct {
	Current   float64 `json:"current"`
	Bucket30  float64 `json:"bucket_30"`
	Bucket60  float64 `json:"bucket_60"`
	Bucket90  float64 `json:"bucket_90"`
	Bucket120 float64 `json:"bucket_120"`
}
