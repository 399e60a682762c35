package parsing

import (
	"image"
	"image/color"
	"testing"
)

func filled(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// withStroke paints a dark vertical bar centred on cx.
func withStroke(img *image.RGBA, cx, width int, c color.Color) *image.RGBA {
	b := img.Bounds()
	for y := b.Min.Y + 10; y < b.Max.Y-10; y++ {
		for x := cx - width/2; x <= cx+width/2; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestAdaptiveThreshold(t *testing.T) {
	light := color.RGBA{220, 220, 220, 255}
	ink := color.RGBA{20, 20, 20, 255}
	tests := []struct {
		name  string
		img   image.Image
		black []image.Point
		white []image.Point
	}{
		{
			name:  "uniform field",
			img:   filled(64, 64, light),
			white: []image.Point{{0, 0}, {32, 32}, {63, 63}},
		},
		{
			name:  "uniform dark field",
			img:   filled(64, 64, ink),
			white: []image.Point{{5, 5}, {32, 32}},
		},
		{
			name:  "dark stroke on light field",
			img:   withStroke(filled(80, 80, light), 40, 5, ink),
			black: []image.Point{{40, 40}, {39, 20}, {41, 60}},
			white: []image.Point{{5, 40}, {75, 40}, {40, 2}},
		},
		{
			name: "faint stroke inside offset",
			// 10 levels below the field is within the offset of 15
			img:   withStroke(filled(80, 80, light), 40, 5, color.RGBA{210, 210, 210, 255}),
			white: []image.Point{{40, 40}, {5, 40}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := AdaptiveThreshold(tc.img, thresholdBlock, thresholdOffset)
			if out.Bounds() != tc.img.Bounds() {
				t.Fatalf("bounds = %v, want %v", out.Bounds(), tc.img.Bounds())
			}
			for _, p := range tc.black {
				if v := out.GrayAt(p.X, p.Y).Y; v != 0 {
					t.Errorf("pixel %v = %d, want black", p, v)
				}
			}
			for _, p := range tc.white {
				if v := out.GrayAt(p.X, p.Y).Y; v != 255 {
					t.Errorf("pixel %v = %d, want white", p, v)
				}
			}
		})
	}
}

func TestPreprocessBinarizes(t *testing.T) {
	tests := []struct {
		name      string
		img       image.Image
		wantBlack bool
	}{
		{"uniform page", filled(64, 64, color.RGBA{240, 240, 240, 255}), false},
		{"page with text stroke", withStroke(filled(80, 80, color.RGBA{235, 235, 235, 255}), 40, 5, color.RGBA{10, 10, 10, 255}), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, degraded := Preprocess(tc.img)
			if degraded {
				t.Fatal("unexpected degraded result")
			}
			b := out.Bounds()
			blacks := 0
			for y := b.Min.Y; y < b.Max.Y; y++ {
				for x := b.Min.X; x < b.Max.X; x++ {
					switch v := luma(out.At(x, y)); v {
					case 0:
						blacks++
					case 255:
					default:
						t.Fatalf("pixel (%d,%d) = %d, want binary", x, y, v)
					}
				}
			}
			if got := blacks > 0; got != tc.wantBlack {
				t.Fatalf("black pixels = %d, wantBlack %v", blacks, tc.wantBlack)
			}
			if tc.wantBlack && luma(out.At(40, 40)) != 0 {
				t.Fatalf("stroke centre not black")
			}
		})
	}
}

func TestPreprocessFallsBackToGrayscale(t *testing.T) {
	orig := binarize
	binarize = func(image.Image) image.Image { panic("threshold failed") }
	t.Cleanup(func() { binarize = orig })

	img := filled(16, 16, color.RGBA{200, 100, 50, 255})
	out, degraded := Preprocess(img)
	if !degraded {
		t.Fatal("expected degraded=true")
	}
	if out.Bounds() != img.Bounds() {
		t.Fatalf("bounds = %v", out.Bounds())
	}
	r, g, b, _ := out.At(8, 8).RGBA()
	if r != g || g != b {
		t.Fatalf("pixel not gray: %d %d %d", r, g, b)
	}
	if r == 0xffff || r == 0 {
		t.Fatalf("fallback looks binarized: %d", r)
	}
}
