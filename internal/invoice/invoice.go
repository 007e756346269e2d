package invoice

import (
	"encoding/json"
	"time"

	"github.com/zombor/invoice-extractor/internal/assemble"
)

// Invoice is a processed upload with its extracted record
type Invoice struct {
	ID                string          `json:"id"`
	Filename          string          `json:"filename"`
	ContentType       string          `json:"content_type"`
	Status            assemble.Status `json:"status"`
	OverallConfidence float64         `json:"overall_confidence"`
	PageCount         int             `json:"page_count"`
	Locale            string          `json:"locale,omitempty"`
	Record            json.RawMessage `json:"record"`
	Warnings          []string        `json:"warnings"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Document decodes the stored record
func (i *Invoice) Document() (assemble.Document, error) {
	var doc assemble.Document
	err := json.Unmarshal(i.Record, &doc)
	return doc, err
}
