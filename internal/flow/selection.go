package flow

import (
	"strconv"

	"github.com/kabelnet/ispbot/internal/intent"
)

// choose resolves a reply against a list shown to the user, either by its
// 1-based number or by the item's key. It returns the zero-based index.
func choose(in StepInput, keys []string) (int, bool) {
	if n, err := strconv.Atoi(in.Normalized); err == nil {
		if n >= 1 && n <= len(keys) {
			return n - 1, true
		}
		return 0, false
	}
	for i, k := range keys {
		if intent.Normalize(k) == in.Normalized {
			return i, true
		}
	}
	return 0, false
}
