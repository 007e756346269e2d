package extraction

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind identifies the variant of a recognised element
type Kind string

const (
	KindLine         Kind = "line"
	KindWord         Kind = "word"
	KindKeyValuePair Kind = "key_value"
	KindTableCell    Kind = "table_cell"
)

// Valid reports whether k is one of the known element kinds
func (k Kind) Valid() bool {
	switch k {
	case KindLine, KindWord, KindKeyValuePair, KindTableCell:
		return true
	}
	return false
}

// Box is a bounding box in page-relative coordinates (0..1, origin top-left)
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is one unit of backend output. Key is only set for key-value
// pairs; Table, Row and Column only for table cells.
type Element struct {
	Kind       Kind    `json:"kind"`
	Text       string  `json:"text"`
	Key        string  `json:"key,omitempty"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Page       int     `json:"page"`
	Table      int     `json:"table,omitempty"`
	Row        int     `json:"row,omitempty"`
	Column     int     `json:"column,omitempty"`
	// Clamped marks confidences that arrived missing or outside [0,1]
	Clamped bool `json:"clamped,omitempty"`
}

// PageResponse is the raw output for one page, elements in backend order
type PageResponse struct {
	Page     int       `json:"page"`
	Elements []Element `json:"elements"`
	Warnings []string  `json:"warnings,omitempty"`
}

// MarshalResponses encodes raw responses for storage
func MarshalResponses(resps []*PageResponse) ([]byte, error) {
	data, err := json.Marshal(resps)
	if err != nil {
		return nil, fmt.Errorf("marshaling page responses: %w", err)
	}
	return data, nil
}

// sanitize pins the response to page and clamps every confidence into
// [0,1], flagging the elements it touched.
func sanitize(resp *PageResponse, page int) {
	resp.Page = page
	for i := range resp.Elements {
		el := &resp.Elements[i]
		el.Page = page

		c := el.Confidence
		switch {
		case math.IsNaN(c):
			c = 0
		case c < 0:
			c = 0
		case c > 1:
			c = 1
		}
		if c != el.Confidence {
			resp.Warnings = append(resp.Warnings,
				fmt.Sprintf("element %d on page %d: confidence %v clamped to %v", i, page, el.Confidence, c))
			el.Confidence = c
			el.Clamped = true
		}
	}
}
