// Package similarity scores how close two texts are in embedding space.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

// Score is a cosine similarity in [-1, 1] rounded to four decimals.
// Valid is false when no score could be computed.
type Score struct {
	Value float64
	Valid bool
}

// NA is the absent score.
var NA = Score{}

// Of wraps a computed value.
func Of(v float64) Score {
	return Score{Value: v, Valid: true}
}

// CellText renders the score as written to the sheet: four decimals or "N/A".
func (s Score) CellText() string {
	if !s.Valid {
		return LabelNA.String()
	}
	return strconv.FormatFloat(s.Value, 'f', 4, 64)
}

// Engine turns two texts into a Score using an embedding capability.
type Engine struct {
	embedder sheetsim.Embedder
}

// NewEngine builds an Engine around a shared embedder.
func NewEngine(embedder sheetsim.Embedder) *Engine {
	return &Engine{embedder: embedder}
}

// Score encodes both texts and returns their rounded cosine similarity.
// An empty text yields NA with a nil error; encoding failures yield NA and
// the error.
func (e *Engine) Score(ctx context.Context, a, b string) (Score, error) {
	if a == "" || b == "" {
		return NA, nil
	}
	va, err := e.encode(ctx, a)
	if err != nil {
		return NA, err
	}
	vb, err := e.encode(ctx, b)
	if err != nil {
		return NA, err
	}
	if len(va) != len(vb) {
		return NA, fmt.Errorf("embedding dimensions differ: %d vs %d", len(va), len(vb))
	}
	var dot float64
	for i := range va {
		dot += va[i] * vb[i]
	}
	return Of(round4(clamp(dot))), nil
}

func (e *Engine) encode(ctx context.Context, text string) ([]float64, error) {
	raw, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	return normalize(raw)
}

func normalize(v []float32) ([]float64, error) {
	var sum float64
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
		sum += out[i] * out[i]
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, errors.New("encode text: degenerate embedding vector")
	}
	for i := range out {
		out[i] /= norm
	}
	return out, nil
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func round4(v float64) float64 {
	r := math.Round(v*10000) / 10000
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}
