package extraction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// wireElement is the element shape requested from the model. Confidence is
// a pointer so a missing value can be told apart from zero.
type wireElement struct {
	Kind       string   `json:"kind"`
	Text       string   `json:"text"`
	Key        string   `json:"key"`
	Confidence *float64 `json:"confidence"`
	Box        Box      `json:"box"`
	Page       int      `json:"page"`
	Table      int      `json:"table"`
	Row        int      `json:"row"`
	Column     int      `json:"column"`
}

type wireResponse struct {
	Elements []wireElement `json:"elements"`
}

// extractJSONObject strips markdown fences and any text around the outermost
// JSON object.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response: %w", ErrMalformedResponse)
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response: %w", ErrMalformedResponse)
	}
	return text[startIdx : endIdx+1], nil
}

func decodeWire(text string) (*wireResponse, error) {
	body, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var wire wireResponse
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, fmt.Errorf("unmarshaling elements: %v: %w", err, ErrMalformedResponse)
	}
	return &wire, nil
}

// toElement converts a wire element, returning a warning when the element
// is skipped or repaired.
func toElement(w wireElement, index int) (Element, bool, string) {
	kind := Kind(strings.ToLower(strings.TrimSpace(w.Kind)))
	if !kind.Valid() {
		return Element{}, false, fmt.Sprintf("element %d: unknown kind %q skipped", index, w.Kind)
	}
	el := Element{
		Kind:   kind,
		Text:   strings.TrimSpace(w.Text),
		Key:    strings.TrimSpace(w.Key),
		Box:    w.Box,
		Page:   w.Page,
		Table:  w.Table,
		Row:    w.Row,
		Column: w.Column,
	}
	if w.Confidence == nil {
		el.Clamped = true
		return el, true, fmt.Sprintf("element %d: missing confidence set to 0", index)
	}
	el.Confidence = *w.Confidence
	return el, true, ""
}

// parsePageResponse decodes model output for a single page
func parsePageResponse(text string, page int) (*PageResponse, error) {
	wire, err := decodeWire(text)
	if err != nil {
		return nil, err
	}

	resp := &PageResponse{Page: page, Elements: make([]Element, 0, len(wire.Elements))}
	for i, w := range wire.Elements {
		el, ok, warning := toElement(w, i)
		if warning != "" {
			resp.Warnings = append(resp.Warnings, warning)
		}
		if !ok {
			continue
		}
		el.Page = page
		resp.Elements = append(resp.Elements, el)
	}
	return resp, nil
}

// parseDocumentResponse decodes model output covering a whole document and
// groups the elements by page, keeping their order within each page.
func parseDocumentResponse(text string, pageCount int) ([]*PageResponse, error) {
	wire, err := decodeWire(text)
	if err != nil {
		return nil, err
	}

	byPage := make(map[int]*PageResponse)
	for i, w := range wire.Elements {
		if w.Page < 0 || w.Page >= pageCount {
			continue
		}
		resp, ok := byPage[w.Page]
		if !ok {
			resp = &PageResponse{Page: w.Page}
			byPage[w.Page] = resp
		}
		el, ok, warning := toElement(w, i)
		if warning != "" {
			resp.Warnings = append(resp.Warnings, warning)
		}
		if ok {
			resp.Elements = append(resp.Elements, el)
		}
	}

	out := make([]*PageResponse, 0, len(byPage))
	for _, resp := range byPage {
		out = append(out, resp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out, nil
}
