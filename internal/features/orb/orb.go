//go:build !noopencv

// Package orb is the OpenCV feature backend: ORB keypoints and binary
// descriptors, matched with a brute-force Hamming matcher or, approximately,
// with FLANN.
//
// OpenCV detector and matcher objects are not safe for concurrent use, so the
// backend lends each call its own instance from a small pool.
package orb

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/mattanapol/image_matcher/internal/features"
)

type MatcherKind string

const (
	MatcherBF    MatcherKind = "bf"
	MatcherFLANN MatcherKind = "flann"

	defaultMaxFeatures = 500
	defaultPoolSize    = 8
)

var errClosed = errors.New("orb backend is closed")

// Descriptors wraps the descriptor matrix returned by OpenCV, one row per
// keypoint. It owns the matrix and must be closed.
type Descriptors struct {
	mat gocv.Mat
}

func (d *Descriptors) Len() int {
	if d == nil {
		return 0
	}
	return d.mat.Rows()
}

func (d *Descriptors) Close() error {
	if d == nil {
		return nil
	}
	return d.mat.Close()
}

type Config struct {
	// MaxFeatures caps the keypoints ORB retains per image.
	MaxFeatures int

	// Matcher selects brute-force Hamming or FLANN matching. gocv only
	// exposes FLANN's default KD-tree index, which needs float descriptors,
	// so extraction converts them to CV_32F and distances become L2 over the
	// raw descriptor bytes. FLANN results are approximate and a ratio tuned
	// for Hamming distance does not carry over unchanged.
	Matcher MatcherKind

	// PoolSize bounds how many idle detector/matcher instances are kept.
	PoolSize int
}

type knnMatcher interface {
	KnnMatch(query, train gocv.Mat, k int) [][]gocv.DMatch
	Close() error
}

type Backend struct {
	config Config

	mu     sync.Mutex
	closed bool

	detectors chan *gocv.ORB
	matchers  chan knnMatcher
}

var _ features.Backend = (*Backend)(nil)

func New(c *Config) (*Backend, error) {
	cfg := Config{}
	if c != nil {
		cfg = *c
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = defaultMaxFeatures
	}
	if cfg.Matcher == "" {
		cfg.Matcher = MatcherBF
	}
	if cfg.Matcher != MatcherBF && cfg.Matcher != MatcherFLANN {
		return nil, fmt.Errorf("unknown matcher %q", cfg.Matcher)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	return &Backend{
		config:    cfg,
		detectors: make(chan *gocv.ORB, cfg.PoolSize),
		matchers:  make(chan knnMatcher, cfg.PoolSize),
	}, nil
}

func (b *Backend) Name() string { return "orb/" + string(b.config.Matcher) }

// Extract implements features.Extractor.
func (b *Backend) Extract(img *image.Gray) ([]features.Keypoint, features.DescriptorSet, error) {
	if img == nil {
		return nil, nil, nil
	}

	src, err := gocv.ImageGrayToMatGray(features.ToGray(img))
	if err != nil {
		return nil, nil, fmt.Errorf("converting image to Mat: %w", err)
	}
	defer src.Close()

	detector, err := b.acquireDetector()
	if err != nil {
		return nil, nil, err
	}
	defer b.releaseDetector(detector)

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := detector.DetectAndCompute(src, mask)
	if desc.Empty() || desc.Rows() == 0 {
		desc.Close()
		return nil, nil, nil
	}

	if b.config.Matcher == MatcherFLANN {
		converted := gocv.NewMat()
		desc.ConvertTo(&converted, gocv.MatTypeCV32F)
		desc.Close()
		desc = converted
	}

	keypoints := make([]features.Keypoint, len(kps))
	for i, kp := range kps {
		keypoints[i] = features.Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
		}
	}
	return keypoints, &Descriptors{mat: desc}, nil
}

// KnnMatch implements features.Matcher.
func (b *Backend) KnnMatch(query, train features.DescriptorSet, k int) ([][]features.Neighbor, error) {
	if features.IsEmpty(query) || features.IsEmpty(train) || k <= 0 {
		return nil, nil
	}
	q, ok := query.(*Descriptors)
	if !ok {
		return nil, features.ErrIncompatibleDescriptors
	}
	t, ok := train.(*Descriptors)
	if !ok {
		return nil, features.ErrIncompatibleDescriptors
	}

	m, err := b.acquireMatcher()
	if err != nil {
		return nil, err
	}
	defer b.releaseMatcher(m)

	raw := m.KnnMatch(q.mat, t.mat, k)
	out := make([][]features.Neighbor, len(raw))
	for i, candidates := range raw {
		neighbors := make([]features.Neighbor, len(candidates))
		for j, c := range candidates {
			neighbors[j] = features.Neighbor{TrainIdx: c.TrainIdx, Distance: c.Distance}
		}
		out[i] = neighbors
	}
	return out, nil
}

// Close releases every pooled OpenCV object. Instances still lent out are
// released when they are returned.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for {
		select {
		case d := <-b.detectors:
			errs = append(errs, d.Close())
		case m := <-b.matchers:
			errs = append(errs, m.Close())
		default:
			return errors.Join(errs...)
		}
	}
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) acquireDetector() (*gocv.ORB, error) {
	if b.isClosed() {
		return nil, errClosed
	}
	select {
	case d := <-b.detectors:
		return d, nil
	default:
		d := gocv.NewORBWithParams(b.config.MaxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
		return &d, nil
	}
}

func (b *Backend) releaseDetector(d *gocv.ORB) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		select {
		case b.detectors <- d:
			return
		default:
		}
	}
	d.Close()
}

func (b *Backend) acquireMatcher() (knnMatcher, error) {
	if b.isClosed() {
		return nil, errClosed
	}
	select {
	case m := <-b.matchers:
		return m, nil
	default:
	}
	if b.config.Matcher == MatcherFLANN {
		m := gocv.NewFlannBasedMatcher()
		return &m, nil
	}
	m := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	return &m, nil
}

func (b *Backend) releaseMatcher(m knnMatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		select {
		case b.matchers <- m:
			return
		default:
		}
	}
	m.Close()
}
