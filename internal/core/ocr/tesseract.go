package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine runs Tesseract in-process and reports text lines.
type TesseractEngine struct {
	client *gosseract.Client
}

// NewTesseractEngine loads Tesseract for languages such as "kor+eng".
func NewTesseractEngine(languages string) (*TesseractEngine, error) {
	client := gosseract.NewClient()
	var langs []string
	for _, l := range strings.Split(languages, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	if len(langs) > 0 {
		if err := client.SetLanguage(langs...); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("tesseract languages %q: %w", languages, err)
		}
	}
	return &TesseractEngine{client: client}, nil
}

func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("tesseract set image: %w", err)
	}
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract recognize: %w", err)
	}

	b := img.Bounds()
	out := make([]Detection, 0, len(boxes))
	for _, bb := range boxes {
		r := bb.Box.Sub(b.Min)
		out = append(out, Detection{
			Points: [][2]float64{
				{float64(r.Min.X), float64(r.Min.Y)},
				{float64(r.Max.X), float64(r.Min.Y)},
				{float64(r.Max.X), float64(r.Max.Y)},
				{float64(r.Min.X), float64(r.Max.Y)},
			},
			Text:       bb.Word,
			Confidence: bb.Confidence / 100,
		})
	}
	return out, nil
}

func (t *TesseractEngine) Close() error {
	return t.client.Close()
}
