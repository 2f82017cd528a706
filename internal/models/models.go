package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage is where an artwork record sits in its lifecycle.
type Stage string

const (
	StageUnanalysed Stage = "unanalysed"
	StageProcessed  Stage = "processed"
	StageFinalised  Stage = "finalised"
	StageLocked     Stage = "locked"
)

// Record is the per-record manifest ({SKU}-RECORD.json). Stage is stored here
// explicitly; the directory a record lives in follows from it.
type Record struct {
	SKU          string         `json:"sku"`
	Slug         string         `json:"slug"`
	Stage        Stage          `json:"stage"`
	OriginalName string         `json:"original_name"`
	OriginalFile string         `json:"original_file"`
	Analysis     *Analysis      `json:"analysis,omitempty"`
	Mockups      map[int]string `json:"mockups,omitempty"` // slot -> template filename
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// QC is the upload-time sidecar ({SKU}-QC.json).
type QC struct {
	SKU            string          `json:"sku"`
	Width          int             `json:"width"`
	Height         int             `json:"height"`
	ColorMode      string          `json:"color_mode"`
	DominantColors []DominantColor `json:"dominant_colors"`
	ThumbFile      string          `json:"thumb_file"`
	AnalyseFile    string          `json:"analyse_file"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

type DominantColor struct {
	Hex   string  `json:"hex"`
	Name  string  `json:"name"`
	Share float64 `json:"share"`
}

// Analysis is what the external analysis step reports for an artwork.
type Analysis struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags,omitempty"`
	PrimaryColour   string   `json:"primary_colour,omitempty"`
	SecondaryColour string   `json:"secondary_colour,omitempty"`
	Provider        string   `json:"provider,omitempty"`
}

// Listing is the finalised marketplace metadata, written to {SKU}-FINAL.json
// and mirrored into the master registry.
type Listing struct {
	SKU             string    `json:"sku"`
	Slug            string    `json:"slug"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	PrimaryColour   string    `json:"primary_colour"`
	SecondaryColour string    `json:"secondary_colour"`
	Tags            []string  `json:"tags,omitempty"`
	Price           string    `json:"price,omitempty"`
	Mockups         []string  `json:"mockups,omitempty"`
	FinalisedAt     time.Time `json:"finalised_at"`
}

// RegistryEntry is one value of the master registry, keyed by slug.
type RegistryEntry struct {
	SKU       string     `json:"sku"`
	Slug      string     `json:"slug"`
	Stage     Stage      `json:"stage"`
	Listing   *Listing   `json:"listing,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Event is a lifecycle transition recorded in the journal.
type Event struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Slug      string    `db:"slug" json:"slug"`
	Stage     Stage     `db:"stage" json:"stage"`
	Action    string    `db:"action" json:"action"`
	Detail    string    `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
