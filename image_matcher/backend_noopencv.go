//go:build noopencv

package main

import (
	"errors"

	"github.com/mattanapol/image_matcher/internal/config"
	"github.com/mattanapol/image_matcher/internal/features"
)

// errORBUnavailable is returned by binaries built with -tags noopencv.
var errORBUnavailable = errors.New("orb backend not compiled in (built with -tags noopencv); use --backend patchhash")

func newORBBackend(*config.Config) (features.Backend, error) {
	return nil, errORBUnavailable
}
