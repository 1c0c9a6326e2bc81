package diff

import (
	"time"

	"github.com/halcyon-health/tapestry/internal/plan"
)

// RestoreSnapshot builds the canonical plan for a restore-to-previous
// operation: a brand-new version whose content equals the historical
// snapshot. History is never rewritten; the restored content simply becomes
// the newest version.
func RestoreSnapshot(historical *plan.CanonicalPlan, latestVersion int, now time.Time) *plan.CanonicalPlan {
	m := toMap(historical)
	restored, err := fromMap(m)
	if err != nil {
		// toMap/fromMap round-trip a well-formed plan; reaching this means
		// the snapshot itself was corrupt, and the copy is still usable.
		copied := *historical
		restored = &copied
	}
	restored.Version = latestVersion + 1
	restored.UpdatedAt = now
	return restored
}
