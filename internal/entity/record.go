package entity

import (
	"time"

	"github.com/google/uuid"
)

// ExtractedRecord is the wire shape emitted by scraper scripts and
// platform clients: one product/price observation.
type ExtractedRecord struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
	URL      string  `json:"url,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
	SKU      string  `json:"sku,omitempty"`
	Brand    string  `json:"brand,omitempty"`
	EAN      string  `json:"ean,omitempty"`
}

type StagedStatus string

const (
	StagedPending   StagedStatus = "pending"
	StagedProcessed StagedStatus = "processed"
	StagedError     StagedStatus = "error"
)

// StagedRecord is an extracted record parked in the staging table, tagged
// with its run, awaiting materialization by the downstream consumer. The
// core inserts these in bulk and never touches them again.
type StagedRecord struct {
	ID        uuid.UUID    `json:"id"`
	RunID     uuid.UUID    `json:"run_id"`
	TargetID  uuid.UUID    `json:"target_id"`
	OwnerID   uuid.UUID    `json:"owner_id"`
	ProductID *uuid.UUID   `json:"product_id,omitempty"` // resolved match, nil => downstream creates
	Name      string       `json:"name"`
	Price     float64      `json:"price"`
	Currency  string       `json:"currency"`
	SKU       *string      `json:"sku,omitempty"`
	EAN       *string      `json:"ean,omitempty"`
	Brand     *string      `json:"brand,omitempty"`
	URL       *string      `json:"url,omitempty"`
	ImageURL  *string      `json:"image_url,omitempty"`
	Status    StagedStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}
