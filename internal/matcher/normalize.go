package matcher

import (
	"path/filepath"
	"strings"
)

// NormalizeName reduces a dataset filename to its logical identity: the
// extension is dropped, then at most one trailing variant marker, so
// "cat_flipped.png" and "cat.png" both become "cat". A name that is nothing
// but the marker, like "_flipped.png", keeps it rather than becoming empty.
func NormalizeName(file string, variantSuffixes []string) string {
	name := filepath.Base(file)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	for _, suffix := range variantSuffixes {
		if suffix != "" && strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}
