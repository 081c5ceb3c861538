// Package gateway abstracts the external settlement rails.
//
// A settlement is handed to a rail with Submit. The rail answers with a
// terminal status right away, or with PENDING plus an external reference
// that a later callback or a QueryStatus poll will resolve.
package gateway

import (
	"context"
	"errors"
)

// Result statuses reported by a rail.
const (
	StatusSuccess = "SUCCESS"
	StatusPending = "PENDING"
	StatusFailed  = "FAILED"
)

var (
	ErrUnavailable   = errors.New("gateway unavailable")
	ErrUnknownRef    = errors.New("unknown external reference")
	ErrNoGatewayFor  = errors.New("no gateway configured for transaction kind")
	ErrNotConfigured = errors.New("gateway not configured")
)

// Request describes one settlement to execute on a rail.
type Request struct {
	TransactionID string // our settlement transaction ID, passed to the vendor for callbacks
	OwnerID       string
	Kind          string // settlement kind, e.g. RECHARGE or BILL_PAYMENT
	Amount        string
	Target        string // vendor-specific destination: subscriber number, biller ID, account
}

// Result is a rail's answer for a submitted or queried settlement.
type Result struct {
	Status      string `json:"status"`
	ExternalRef string `json:"externalRef"`
	Message     string `json:"message,omitempty"`
}

// Gateway executes settlements on an external rail.
type Gateway interface {
	// Submit hands a settlement to the rail. A non-nil Result always
	// carries a usable ExternalRef, even when Status is PENDING.
	Submit(ctx context.Context, req Request) (*Result, error)

	// QueryStatus asks the rail for the current status of a previously
	// submitted settlement. Used by the reconciler when no callback arrived.
	QueryStatus(ctx context.Context, externalRef string) (*Result, error)
}

// Terminal reports whether a result status is final.
func Terminal(status string) bool {
	return status == StatusSuccess || status == StatusFailed
}
