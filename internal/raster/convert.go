package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"

	"github.com/gen2brain/heic"
)

// blankThreshold is the gray level (0-255) above which a pixel counts as paper
const blankThreshold = 245

// IsPDF reports whether the input should be opened as a PDF, either by its
// declared content type or by the %PDF- header.
func IsPDF(data []byte, contentType string) bool {
	if normalizeMIME(contentType) == "application/pdf" {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func normalizeMIME(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// decodeImage decodes JPEG, PNG, GIF and HEIC/HEIF input
func decodeImage(data []byte, contentType string) (image.Image, error) {
	// HEIC is common on phone scans and not handled by the standard decoders
	if isHEICFormat(data) || isHEICMimeType(contentType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported format, expected PDF, JPEG, PNG, GIF, HEIC or HEIF: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(contentType string) bool {
	mimeType := normalizeMIME(contentType)
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// isBlank samples the image on a coarse grid and reports whether no sample
// is darker than the paper threshold.
func isBlank(img image.Image) bool {
	b := img.Bounds()
	if b.Empty() {
		return true
	}
	step := max(1, min(b.Dx(), b.Dy())/200)
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			gray := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if gray.Y < blankThreshold {
				return false
			}
		}
	}
	return true
}
