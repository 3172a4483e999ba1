// Package features defines the capabilities image_matcher needs from a
// vision library: keypoint/descriptor extraction and k-nearest-neighbour
// descriptor matching. Concrete backends live in sub-packages.
package features

import (
	"errors"
	"image"
	"io"
)

// ErrIncompatibleDescriptors is returned by a Matcher handed descriptor sets
// produced by another backend.
var ErrIncompatibleDescriptors = errors.New("descriptor sets were not produced by this backend")

// Keypoint is a detected point of interest.
type Keypoint struct {
	X, Y     float64
	Size     float64
	Angle    float64
	Response float64
	Octave   int
}

// DescriptorSet is an immutable set of fixed-width descriptors for one image.
type DescriptorSet interface {
	Len() int
}

// Neighbor is one candidate returned by a kNN query.
type Neighbor struct {
	TrainIdx int
	Distance float64
}

// Extractor computes keypoints and descriptors from a grayscale image. A nil
// DescriptorSet with a nil error means the image has no usable features.
type Extractor interface {
	Extract(img *image.Gray) ([]Keypoint, DescriptorSet, error)
}

// Matcher returns, for every descriptor in query, up to k nearest neighbours
// in train ordered by increasing distance.
type Matcher interface {
	KnnMatch(query, train DescriptorSet, k int) ([][]Neighbor, error)
}

// Backend bundles an Extractor with the Matcher able to compare its output.
// Implementations must be safe for concurrent use.
type Backend interface {
	Extractor
	Matcher
	Name() string
	io.Closer
}

// IsEmpty reports whether d holds no descriptors.
func IsEmpty(d DescriptorSet) bool {
	return d == nil || d.Len() == 0
}

// Release frees d when the backend attached native resources to it.
func Release(d DescriptorSet) error {
	if c, ok := d.(io.Closer); ok && d != nil {
		return c.Close()
	}
	return nil
}
