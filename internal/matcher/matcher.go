// Package matcher finds the dataset image that best matches a query image.
//
// A query's descriptors are compared against every cache entry on a bounded
// pool of goroutines. Each comparison runs a 2-NN search followed by the
// ratio test, and the entry with the most surviving matches wins.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mattanapol/image_matcher/internal/dataset"
	"github.com/mattanapol/image_matcher/internal/features"
	"github.com/mattanapol/image_matcher/internal/file_helper"
	"github.com/mattanapol/image_matcher/internal/logger"
)

// FrameGrabber turns a video file into a single still used as the query.
type FrameGrabber interface {
	Grab(ctx context.Context, path string) (image.Image, error)
}

type Config struct {
	// Backend extracts query descriptors and compares them with the cache.
	// It must be the backend the cache was built with.
	Backend features.Backend

	// Ratio is the ratio-test threshold. Defaults to DefaultRatio.
	Ratio float64

	// Workers bounds concurrent comparisons per query. 0 means one per CPU.
	Workers int

	// VariantSuffixes are stripped from the winning filename.
	VariantSuffixes []string

	// Frames, when set, lets video files be used as queries.
	Frames FrameGrabber

	Logger *zap.Logger
}

// MatchResult is a comparison that kept at least one good match.
type MatchResult struct {
	File  string
	Count int
}

type Result struct {
	QueryID string
	Query   string

	// Found is false when the query could not be read or nothing matched.
	Found bool

	// Name is the normalized identity of File.
	Name  string
	File  string
	Count int

	// Elapsed is the wall time of the query in seconds, rounded to 0.01.
	Elapsed float64

	// Ranking lists every entry with a positive count, best first.
	Ranking []MatchResult
}

type Service struct {
	config Config
	logger *zap.Logger
}

func NewService(c *Config) (*Service, error) {
	if c == nil || c.Backend == nil {
		return nil, errors.New("matcher: a feature backend is required")
	}
	cfg := *c
	if cfg.Ratio == 0 {
		cfg.Ratio = DefaultRatio
	}
	if cfg.Ratio < 0 || cfg.Ratio > 1 {
		return nil, fmt.Errorf("matcher: ratio must be in (0, 1], got %.3f", cfg.Ratio)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Service{config: cfg, logger: logger.OrNop(cfg.Logger)}, nil
}

// FindBestMatch loads the image at queryPath and matches it against cache.
// An unreadable query yields a Result with Found=false; no error is returned.
func (s *Service) FindBestMatch(ctx context.Context, cache *dataset.Cache, queryPath string) Result {
	start := time.Now()
	queryID := uuid.NewString()
	log := s.logger.With(zap.String("query_id", queryID), zap.String("query", queryPath))

	img, err := s.loadQuery(ctx, queryPath)
	if err != nil {
		log.Warn("could not load query image", zap.Error(err))
		return Result{QueryID: queryID, Query: queryPath, Elapsed: elapsedSince(start)}
	}

	res := s.match(ctx, log, cache, img)
	res.QueryID = queryID
	res.Query = queryPath
	res.Elapsed = elapsedSince(start)
	return res
}

// MatchImage matches an already decoded image. label identifies it in logs
// and in the Result.
func (s *Service) MatchImage(ctx context.Context, cache *dataset.Cache, label string, img *image.Gray) Result {
	start := time.Now()
	queryID := uuid.NewString()
	log := s.logger.With(zap.String("query_id", queryID), zap.String("query", label))

	res := s.match(ctx, log, cache, img)
	res.QueryID = queryID
	res.Query = label
	res.Elapsed = elapsedSince(start)
	return res
}

func (s *Service) loadQuery(ctx context.Context, path string) (*image.Gray, error) {
	kind, err := file_helper.Sniff(path)
	if err != nil {
		return nil, err
	}
	if kind == file_helper.KindVideo {
		if s.config.Frames == nil {
			return nil, fmt.Errorf("%s is a video and frame grabbing is not configured", path)
		}
		frame, err := s.config.Frames.Grab(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("grabbing frame from %s: %w", path, err)
		}
		return features.ToGray(frame), nil
	}
	return features.LoadGray(path)
}

func (s *Service) match(ctx context.Context, log *zap.Logger, cache *dataset.Cache, img *image.Gray) Result {
	_, query, err := s.config.Backend.Extract(img)
	if err != nil {
		log.Warn("could not extract query features", zap.Error(err))
		return Result{}
	}
	defer features.Release(query)

	if features.IsEmpty(query) {
		log.Debug("query has no descriptors")
		return Result{}
	}

	var (
		mu      sync.Mutex
		best    MatchResult
		ranking []MatchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	for _, entry := range cache.Entries() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			count, ok := s.score(log, query, entry)
			if !ok {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			ranking = append(ranking, MatchResult{File: entry.Name, Count: count})
			if better(count, entry.Name, best) {
				best = MatchResult{File: entry.Name, Count: count}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		log.Warn("query cancelled", zap.Error(err))
	}

	sortRanking(ranking)
	log.Debug("query scored",
		zap.Int("candidates", len(ranking)),
		zap.String("best", best.File),
		zap.Int("good_matches", best.Count),
	)

	if best.Count == 0 {
		return Result{Ranking: ranking}
	}
	return Result{
		Found:   true,
		Name:    NormalizeName(best.File, s.config.VariantSuffixes),
		File:    best.File,
		Count:   best.Count,
		Ranking: ranking,
	}
}

// score returns the number of good matches between query and entry. ok is
// false when the comparison produced no result.
func (s *Service) score(log *zap.Logger, query features.DescriptorSet, entry *dataset.Entry) (int, bool) {
	if !entry.HasDescriptors() {
		return 0, false
	}

	knn, err := s.config.Backend.KnnMatch(query, entry.Descriptors, 2)
	if err != nil {
		log.Warn("descriptor matching failed", zap.String("file", entry.Name), zap.Error(err))
		return 0, false
	}

	count := CountGoodMatches(knn, s.config.Ratio)
	if count == 0 {
		return 0, false
	}
	return count, true
}

// better reports whether (count, file) should replace best. Equal counts go
// to the lexically smaller filename so results do not depend on scheduling.
func better(count int, file string, best MatchResult) bool {
	if count <= 0 {
		return false
	}
	if count != best.Count {
		return count > best.Count
	}
	return best.File == "" || file < best.File
}

func sortRanking(r []MatchResult) {
	sort.Slice(r, func(i, j int) bool {
		if r[i].Count != r[j].Count {
			return r[i].Count > r[j].Count
		}
		return r[i].File < r[j].File
	})
}

func elapsedSince(start time.Time) float64 {
	return math.Round(time.Since(start).Seconds()*100) / 100
}
