package models

import "time"

const (
	EventPaymentSucceeded        = "payment.succeeded"
	EventPaymentFailed           = "payment.failed"
	EventPaymentPending          = "payment.pending"
	EventReconciliationExhausted = "reconciliation.exhausted"
	EventCatalogSynced           = "catalog.synced"
)

// PaymentEvent is published to SNS whenever a payment settles or is parked for
// reconciliation.
type PaymentEvent struct {
	EventType  string        `json:"event_type"`
	Reference  string        `json:"reference"`
	Status     PaymentStatus `json:"status"`
	Provider   ProviderName  `json:"provider,omitempty"`
	Amount     int64         `json:"amount"`
	CustomerID string        `json:"customer_id"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

type CatalogSyncedEvent struct {
	EventType string                     `json:"event_type"`
	Providers map[ProviderName]SyncStats `json:"providers"`
	Timestamp time.Time                  `json:"timestamp"`
}

// SyncStats counts what one catalog sync did for one provider.
type SyncStats struct {
	Listed    int    `json:"listed"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}
