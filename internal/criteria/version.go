package criteria

import (
	"strconv"
	"strings"
)

// PackVersion folds "major.minor.patch" into a single ordered integer:
// major<<20 + minor<<10 + patch. Missing components count as zero, so "1",
// "1.0" and "1.0.0" pack identically.
//
// Components wider than 10 bits (20 for major) spill into the neighbouring
// field. Existing manifests rely on this packing, so it is not corrected.
func PackVersion(v string) int64 {
	parts := strings.Split(strings.TrimSpace(v), ".")

	var packed int64
	for i, shift := range []uint{20, 10, 0} {
		if i >= len(parts) {
			break
		}
		n, err := strconv.ParseInt(strings.TrimSpace(parts[i]), 10, 64)
		if err != nil {
			n = 0
		}
		packed += n << shift
	}
	return packed
}
