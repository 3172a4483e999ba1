//go:build !noopencv

package main

import (
	"github.com/mattanapol/image_matcher/internal/config"
	"github.com/mattanapol/image_matcher/internal/features"
	"github.com/mattanapol/image_matcher/internal/features/orb"
)

func newORBBackend(cfg *config.Config) (features.Backend, error) {
	return orb.New(&orb.Config{
		MaxFeatures: cfg.Matching.MaxFeatures,
		Matcher:     orb.MatcherKind(cfg.Matching.Matcher),
	})
}
