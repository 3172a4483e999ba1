// Package imagetest generates deterministic synthetic images for tests.
package imagetest

import (
	"image"
	"image/color"
	"math/rand"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Noise returns a w x h grayscale image tiled with block x block squares of
// random intensity. The same seed always yields the same image.
func Noise(seed int64, w, h, block int) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			v := color.Gray{Y: uint8(rng.Intn(256))}
			for y := by; y < min(by+block, h); y++ {
				for x := bx; x < min(bx+block, w); x++ {
					img.SetGray(x, y, v)
				}
			}
		}
	}
	return img
}

// Blank returns a uniform w x h image.
func Blank(w, h int, level uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

// Mirror returns img flipped horizontally.
func Mirror(img image.Image) image.Image {
	return imaging.FlipH(img)
}

// Save writes img into dir under name, picking the format from the extension.
func Save(dir, name string, img image.Image) (string, error) {
	path := filepath.Join(dir, name)
	if err := imaging.Save(img, path); err != nil {
		return "", err
	}
	return path, nil
}
