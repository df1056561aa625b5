package sense

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"time"

	// Frame payloads arrive as JPEG from every camera adapter; PNG covers
	// synthetic fixtures.
	_ "image/jpeg"
	_ "image/png"
)

const (
	// HistBins is the luminance histogram resolution.
	HistBins = 64

	// GridSize is the edge length of the down-sampled luma grid.
	GridSize = 16
)

// Histogram is a normalized luminance histogram. Bins sum to 1 for any
// non-empty frame.
type Histogram [HistBins]float64

// LumaGrid holds the mean luminance (0..255) of each cell of a
// GridSize x GridSize partition of the frame.
type LumaGrid [GridSize * GridSize]float64

// Frame is a single captured camera image plus the derived features used
// for change scoring. It is owned by the acquisition gate until forwarded
// and immutable once built.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Pixels    []byte // encoded image as captured (JPEG)
	Width     int
	Height    int
	Hist      *Histogram
	Grid      *LumaGrid
}

// Corrupt reports whether the frame failed feature derivation. Corrupt
// frames are suppressed by the gate, never fatal.
func (f *Frame) Corrupt() bool {
	return f == nil || f.Hist == nil || f.Grid == nil
}

// NewFrame decodes the encoded image and derives its features. A frame
// whose pixels cannot be decoded is still returned, flagged corrupt, along
// with the decode error, so callers can log and move on.
func NewFrame(seq uint64, ts time.Time, encoded []byte) (*Frame, error) {
	f := &Frame{
		Seq:       seq,
		Timestamp: ts,
		Pixels:    encoded,
	}

	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return f, fmt.Errorf("decode frame %d: %w", seq, err)
	}

	bounds := img.Bounds()
	f.Width = bounds.Dx()
	f.Height = bounds.Dy()
	f.Hist, f.Grid = Derive(img)
	if f.Hist == nil {
		return f, fmt.Errorf("derive frame %d: empty image", seq)
	}
	return f, nil
}

// Derive computes the luminance histogram and down-sampled luma grid for a
// decoded image. Returns nils for an empty image.
func Derive(img image.Image) (*Histogram, *LumaGrid) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}

	var hist Histogram
	var grid LumaGrid
	var counts [GridSize * GridSize]int

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		gy := (y - bounds.Min.Y) * GridSize / h
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// BT.601 luma from 16-bit channels, scaled to 0..255.
			luma := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0

			bin := int(luma) * HistBins / 256
			if bin >= HistBins {
				bin = HistBins - 1
			}
			hist[bin]++

			gx := (x - bounds.Min.X) * GridSize / w
			cell := gy*GridSize + gx
			grid[cell] += luma
			counts[cell]++
		}
	}

	total := float64(w * h)
	for i := range hist {
		hist[i] /= total
	}
	for i := range grid {
		if counts[i] > 0 {
			grid[i] /= float64(counts[i])
		}
	}
	return &hist, &grid
}

// Bhattacharyya returns the Bhattacharyya distance between two normalized
// histograms: 0 for identical distributions, approaching 1 for disjoint
// ones.
func Bhattacharyya(a, b *Histogram) float64 {
	if a == nil || b == nil {
		return 1
	}
	var bc float64
	for i := range a {
		bc += math.Sqrt(a[i] * b[i])
	}
	if bc > 1 {
		bc = 1
	}
	return math.Sqrt(1 - bc)
}

// Delta returns the mean absolute per-cell difference between two luma
// grids, normalized to [0,1].
func (g *LumaGrid) Delta(other *LumaGrid) float64 {
	if g == nil || other == nil {
		return 1
	}
	var sum float64
	for i := range g {
		sum += math.Abs(g[i] - other[i])
	}
	return sum / float64(len(g)) / 255.0
}
