package dispatch

import (
	"sort"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

// Failure is one platform's reason for not publishing.
type Failure struct {
	Platform models.Platform `json:"platform"`
	Error    string          `json:"error"`
}

// Reduce folds per-platform results into the all-or-nothing decision: true
// only when every requested platform succeeded. Degraded successes count as
// successes. Failures come back in stable platform order.
func Reduce(results map[models.Platform]*models.PublishResult) (bool, []Failure) {
	var failures []Failure
	for platform, res := range results {
		if res == nil {
			failures = append(failures, Failure{Platform: platform, Error: "no result"})
			continue
		}
		if !res.Success {
			failures = append(failures, Failure{Platform: platform, Error: res.Error})
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Platform < failures[j].Platform })
	return len(failures) == 0, failures
}
