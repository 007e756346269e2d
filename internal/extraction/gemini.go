package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/invoice-extractor/internal/raster"
)

const defaultGeminiModel = "gemini-2.5-pro"

// elementContract is the output format shared by the page and document prompts
const elementContract = `Return ONLY valid JSON in this exact format:
{
  "elements": [
    {
      "kind": "line" | "word" | "key_value" | "table_cell",
      "text": "recognised text (for key_value: the value)",
      "key": "label text, key_value only",
      "confidence": 0.0 to 1.0,
      "box": {"left": 0.0, "top": 0.0, "width": 0.0, "height": 0.0},
      "page": 0,
      "table": 0,
      "row": 0,
      "column": 0
    }
  ]
}

Rules:
- Box coordinates are fractions of the page size, origin at the top-left corner
- Emit every printed line of text as a "line" element in reading order
- Emit labelled values ("Invoice No: 123", "Total  R$ 10,00") as "key_value" elements with the label in "key"
- Emit every cell of every table as a "table_cell" element; "table" numbers tables from 0, "row" and "column" are 0-based and row 0 is the header
- Copy text exactly as printed, do not translate, reformat numbers or convert dates
- "confidence" is how sure you are the text is read correctly
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

const pagePrompt = `You are a document OCR engine analyzing one scanned page of an invoice. Read all text in the image and report it as structured elements.

` + elementContract

const documentPrompt = `You are a document OCR engine analyzing a multi-page invoice PDF. Read all text on every page and report it as structured elements. Set "page" to the 0-based page number each element appears on.

` + elementContract

// contentGenerator is the part of *genai.GenerativeModel the adapter uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiConfig holds the credentials and model for the Gemini backend
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini implements DocumentBackend using Google Gemini vision models
type Gemini struct {
	client *genai.Client
	model  contentGenerator
}

// NewGemini creates a new Gemini backend
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(0)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Analyze recognises the elements on one page raster
func (g *Gemini) Analyze(ctx context.Context, page raster.Page) (*PageResponse, error) {
	// genai.ImageData expects the format suffix, not the full MIME type
	text, err := g.generate(ctx,
		genai.ImageData("png", page.Image),
		genai.Text(pagePrompt),
	)
	if err != nil {
		return nil, err
	}

	resp, err := parsePageResponse(text, page.Index)
	if err != nil {
		return nil, fmt.Errorf("parsing page %d: %w", page.Index, err)
	}
	return resp, nil
}

// AnalyzeDocument sends the whole PDF in a single request
func (g *Gemini) AnalyzeDocument(ctx context.Context, pdf []byte, pageCount int) ([]*PageResponse, error) {
	text, err := g.generate(ctx,
		genai.Blob{MIMEType: "application/pdf", Data: pdf},
		genai.Text(documentPrompt),
	)
	if err != nil {
		return nil, err
	}

	resps, err := parseDocumentResponse(text, pageCount)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return resps, nil
}

func (g *Gemini) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("generating content: %v: %w", err, ErrRejected)
		}
		return "", fmt.Errorf("generating content: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini: %w", ErrMalformedResponse)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
