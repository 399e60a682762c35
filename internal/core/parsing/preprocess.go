package parsing

import (
	"fmt"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
)

// Binarization parameters for OCR input.
const (
	medianRadius    = 1.5
	smoothRadius    = 1.0
	thresholdBlock  = 31
	thresholdOffset = 15
)

// Preprocess converts a masked page into a binary image for text detection:
// grayscale, median denoise, light Gaussian blur, then an adaptive Gaussian
// threshold. On failure it returns the best image reached and degraded=true.
func Preprocess(img image.Image) (out image.Image, degraded bool) {
	gray, err := safely(func() image.Image { return effect.Grayscale(img) })
	if err != nil {
		return img, true
	}
	bin, err := safely(func() image.Image { return binarize(gray) })
	if err != nil {
		return gray, true
	}
	return bin, false
}

var binarize = func(gray image.Image) image.Image {
	denoised := effect.Median(gray, medianRadius)
	smoothed := blur.Gaussian(denoised, smoothRadius)
	return AdaptiveThreshold(smoothed, thresholdBlock, thresholdOffset)
}

// AdaptiveThreshold marks a pixel white when it is brighter than its
// Gaussian-weighted neighbourhood mean minus offset, black otherwise.
func AdaptiveThreshold(src image.Image, block int, offset float64) *image.Gray {
	b := src.Bounds()
	mean := blur.Gaussian(src, float64(block-1)/2)
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(luma(src.At(x, y)))
			m := mean.RGBAAt(x-b.Min.X+mean.Rect.Min.X, y-b.Min.Y+mean.Rect.Min.Y)
			t := float64(m.R) - offset
			if v > t {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

func luma(c color.Color) uint8 {
	return color.GrayModel.Convert(c).(color.Gray).Y
}

func safely(fn func() image.Image) (img image.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("preprocess: %v", rec)
		}
	}()
	return fn(), nil
}
