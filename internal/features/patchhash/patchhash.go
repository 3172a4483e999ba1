// Package patchhash is a pure Go feature backend. Keypoints sit on a regular
// grid of overlapping patches; every patch with enough contrast is described
// by its perceptual and difference hashes, and descriptors are compared by
// Hamming distance.
//
// It needs no native libraries, which makes it the backend of choice for
// tests and for machines without OpenCV.
package patchhash

import (
	"fmt"
	"image"
	"math"
	"math/bits"
	"sort"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/mattanapol/image_matcher/internal/features"
)

const (
	DefaultPatchSize   = 32
	DefaultStride      = 16
	DefaultMaxSide     = 512
	DefaultMinContrast = 8.0
	DefaultMaxFeatures = 500
)

// Descriptor is a 128-bit patch signature: pHash in the first word, dHash in
// the second.
type Descriptor [2]uint64

// Descriptors is the DescriptorSet produced by this backend.
type Descriptors []Descriptor

func (d Descriptors) Len() int { return len(d) }

// Distance is the Hamming distance between two descriptors.
func Distance(a, b Descriptor) int {
	return bits.OnesCount64(a[0]^b[0]) + bits.OnesCount64(a[1]^b[1])
}

type Options struct {
	// PatchSize is the side of the square patch, in working-resolution pixels.
	PatchSize int

	// Stride is the grid step between patch origins.
	Stride int

	// MaxSide bounds the working resolution; larger images are downscaled.
	MaxSide int

	// MinContrast is the minimum pixel standard deviation for a patch to
	// become a keypoint. Flat patches carry no information.
	MinContrast float64

	// MaxFeatures keeps only the highest-contrast patches.
	MaxFeatures int
}

type Backend struct {
	opts Options
}

var _ features.Backend = (*Backend)(nil)

// New returns a backend using opts, with zero fields replaced by defaults.
func New(opts *Options) *Backend {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.PatchSize <= 0 {
		o.PatchSize = DefaultPatchSize
	}
	if o.Stride <= 0 {
		o.Stride = DefaultStride
	}
	if o.MaxSide <= 0 {
		o.MaxSide = DefaultMaxSide
	}
	if o.MinContrast <= 0 {
		o.MinContrast = DefaultMinContrast
	}
	if o.MaxFeatures <= 0 {
		o.MaxFeatures = DefaultMaxFeatures
	}
	return &Backend{opts: o}
}

func (b *Backend) Name() string { return "patchhash" }

func (b *Backend) Close() error { return nil }

type patch struct {
	kp   features.Keypoint
	desc Descriptor
}

// Extract implements features.Extractor.
func (b *Backend) Extract(img *image.Gray) ([]features.Keypoint, features.DescriptorSet, error) {
	if img == nil {
		return nil, nil, nil
	}

	work, scale := b.workingImage(img)
	size, stride := b.opts.PatchSize, b.opts.Stride
	w, h := work.Bounds().Dx(), work.Bounds().Dy()

	var patches []patch
	for y := 0; y+size <= h; y += stride {
		for x := 0; x+size <= w; x += stride {
			rect := image.Rect(x, y, x+size, y+size)
			contrast := stdDev(work, rect)
			if contrast < b.opts.MinContrast {
				continue
			}

			desc, err := describe(imaging.Crop(work, rect))
			if err != nil {
				return nil, nil, fmt.Errorf("hashing patch at (%d,%d): %w", x, y, err)
			}

			patches = append(patches, patch{
				kp: features.Keypoint{
					X:        (float64(x) + float64(size)/2) * scale,
					Y:        (float64(y) + float64(size)/2) * scale,
					Size:     float64(size) * scale,
					Angle:    -1,
					Response: contrast,
				},
				desc: desc,
			})
		}
	}

	if len(patches) == 0 {
		return nil, nil, nil
	}

	if len(patches) > b.opts.MaxFeatures {
		sort.SliceStable(patches, func(i, j int) bool {
			return patches[i].kp.Response > patches[j].kp.Response
		})
		patches = patches[:b.opts.MaxFeatures]
	}

	kps := make([]features.Keypoint, len(patches))
	descs := make(Descriptors, len(patches))
	for i, p := range patches {
		kps[i] = p.kp
		descs[i] = p.desc
	}
	return kps, descs, nil
}

// workingImage downscales img so its longest side fits MaxSide. The returned
// scale maps working coordinates back to img coordinates.
func (b *Backend) workingImage(img *image.Gray) (*image.Gray, float64) {
	bounds := img.Bounds()
	longest := max(bounds.Dx(), bounds.Dy())
	if longest <= b.opts.MaxSide {
		return features.ToGray(img), 1
	}

	maxSide := uint(b.opts.MaxSide)
	thumb := features.ToGray(resize.Thumbnail(maxSide, maxSide, img, resize.Bilinear))
	return thumb, float64(bounds.Dx()) / float64(thumb.Bounds().Dx())
}

func describe(p image.Image) (Descriptor, error) {
	ph, err := goimagehash.PerceptionHash(p)
	if err != nil {
		return Descriptor{}, err
	}
	dh, err := goimagehash.DifferenceHash(p)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{ph.GetHash(), dh.GetHash()}, nil
}

func stdDev(img *image.Gray, rect image.Rectangle) float64 {
	var sum, sumSq float64
	n := float64(rect.Dx() * rect.Dy())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := img.Pix[img.PixOffset(rect.Min.X, y):img.PixOffset(rect.Max.X, y)]
		for _, v := range row {
			f := float64(v)
			sum += f
			sumSq += f * f
		}
	}
	mean := sum / n
	return math.Sqrt(math.Max(sumSq/n-mean*mean, 0))
}

// KnnMatch implements features.Matcher with an exhaustive Hamming search.
// Equal distances keep the lower train index first.
func (b *Backend) KnnMatch(query, train features.DescriptorSet, k int) ([][]features.Neighbor, error) {
	if features.IsEmpty(query) || features.IsEmpty(train) || k <= 0 {
		return nil, nil
	}
	q, ok := query.(Descriptors)
	if !ok {
		return nil, features.ErrIncompatibleDescriptors
	}
	t, ok := train.(Descriptors)
	if !ok {
		return nil, features.ErrIncompatibleDescriptors
	}

	out := make([][]features.Neighbor, len(q))
	for i, qd := range q {
		best := make([]features.Neighbor, 0, k)
		for j, td := range t {
			best = insertNeighbor(best, features.Neighbor{TrainIdx: j, Distance: float64(Distance(qd, td))}, k)
		}
		out[i] = best
	}
	return out, nil
}

func insertNeighbor(best []features.Neighbor, n features.Neighbor, k int) []features.Neighbor {
	pos := len(best)
	for pos > 0 && n.Distance < best[pos-1].Distance {
		pos--
	}
	if pos >= k {
		return best
	}
	if len(best) < k {
		best = append(best, features.Neighbor{})
	}
	copy(best[pos+1:], best[pos:len(best)-1])
	best[pos] = n
	return best
}
