package sense

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
	"time"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func uniformImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNewFrame(t *testing.T) {
	gray := uniformImage(64, 48, color.RGBA{128, 128, 128, 255})

	f, err := NewFrame(7, time.Unix(100, 0), encodePNG(t, gray))
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}
	if f.Corrupt() {
		t.Fatal("frame should not be corrupt")
	}
	if f.Seq != 7 {
		t.Errorf("Seq = %d, want 7", f.Seq)
	}
	if f.Width != 64 || f.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", f.Width, f.Height)
	}

	// A uniform gray image concentrates all histogram mass in one bin.
	var mass float64
	for _, v := range f.Hist {
		mass += v
		if v != 0 && v != 1 {
			t.Errorf("uniform image histogram bin = %v, want 0 or 1", v)
		}
	}
	if math.Abs(mass-1) > 1e-9 {
		t.Errorf("histogram mass = %v, want 1", mass)
	}

	for i, v := range f.Grid {
		if math.Abs(v-128) > 0.5 {
			t.Errorf("grid[%d] = %v, want ~128", i, v)
			break
		}
	}
}

func TestNewFrameCorrupt(t *testing.T) {
	f, err := NewFrame(3, time.Unix(100, 0), []byte("not an image"))
	if err == nil {
		t.Fatal("NewFrame() with garbage should return an error")
	}
	if f == nil {
		t.Fatal("NewFrame() should still return the frame")
	}
	if !f.Corrupt() {
		t.Error("frame should be flagged corrupt")
	}
	if f.Seq != 3 {
		t.Errorf("Seq = %d, want 3", f.Seq)
	}
}

func TestBhattacharyya(t *testing.T) {
	var uniform Histogram
	for i := range uniform {
		uniform[i] = 1.0 / HistBins
	}

	var low, high Histogram
	low[0] = 1
	high[HistBins-1] = 1

	tests := []struct {
		name string
		a, b *Histogram
		want float64
	}{
		{"identical", &uniform, &uniform, 0},
		{"disjoint", &low, &high, 1},
		{"nil reference", nil, &low, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bhattacharyya(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Bhattacharyya() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLumaGridDelta(t *testing.T) {
	flat := func(v float64) *LumaGrid {
		var g LumaGrid
		for i := range g {
			g[i] = v
		}
		return &g
	}

	tests := []struct {
		name string
		a, b *LumaGrid
		want float64
	}{
		{"identical", flat(100), flat(100), 0},
		{"offset by 10", flat(100), flat(110), 10.0 / 255.0},
		{"full swing", flat(0), flat(255), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Delta(tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Delta() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveSplitScene(t *testing.T) {
	// Left half dark, right half bright: mass lands in exactly two bins and
	// the grid splits down the middle.
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if x < 16 {
				img.Set(x, y, color.RGBA{10, 10, 10, 255})
			} else {
				img.Set(x, y, color.RGBA{240, 240, 240, 255})
			}
		}
	}

	hist, grid := Derive(img)
	if hist == nil || grid == nil {
		t.Fatal("Derive() returned nil features")
	}

	nonZero := 0
	for _, v := range hist {
		if v > 0 {
			nonZero++
		}
	}
	if nonZero != 2 {
		t.Errorf("non-zero bins = %d, want 2", nonZero)
	}

	if grid[0] > 20 {
		t.Errorf("left cell luma = %v, want dark", grid[0])
	}
	if grid[GridSize-1] < 200 {
		t.Errorf("right cell luma = %v, want bright", grid[GridSize-1])
	}
}

func TestSyntheticFrameConsistency(t *testing.T) {
	a := SyntheticFrame(1, time.Unix(0, 0), 100)
	b := SyntheticFrame(2, time.Unix(1, 0), 100)
	c := SyntheticFrame(3, time.Unix(2, 0), 220)

	if d := Bhattacharyya(a.Hist, b.Hist); d != 0 {
		t.Errorf("same-level histogram distance = %v, want 0", d)
	}
	if d := a.Grid.Delta(b.Grid); d != 0 {
		t.Errorf("same-level grid delta = %v, want 0", d)
	}
	if d := Bhattacharyya(a.Hist, c.Hist); d < 0.9 {
		t.Errorf("different-level histogram distance = %v, want ~1", d)
	}
	if d := a.Grid.Delta(c.Grid); math.Abs(d-120.0/255.0) > 1e-9 {
		t.Errorf("different-level grid delta = %v, want %v", d, 120.0/255.0)
	}
}
