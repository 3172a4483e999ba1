package matcher

import "github.com/mattanapol/image_matcher/internal/features"

// DefaultRatio is Lowe's ratio threshold used when none is configured.
const DefaultRatio = 0.35

// CountGoodMatches applies the ratio test to kNN output: a descriptor counts
// when it has exactly two candidates and the nearest is strictly closer than
// ratio times the second.
func CountGoodMatches(knn [][]features.Neighbor, ratio float64) int {
	good := 0
	for _, pair := range knn {
		if len(pair) != 2 {
			continue
		}
		if pair[0].Distance < ratio*pair[1].Distance {
			good++
		}
	}
	return good
}
