package catalog

import (
	"sort"

	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
)

// eligible reports whether d passes the job-independent and job-dependent
// filters: capability gating, tier budget, and health.
func eligible(d models.DirectoryDescriptor, jobPackage models.PackageSize, driverCaps interfaces.DriverCapabilities, unhealthy bool) bool {
	if d.RequiresLogin && !driverCaps.HandlesLogin {
		return false
	}
	if d.HasCaptcha && !driverCaps.HandlesCaptcha {
		return false
	}
	if !models.PackageSizeAtLeast(jobPackage, d.Tier) {
		return false
	}
	if unhealthy {
		return false
	}
	return true
}

// filterAndSort applies the eligibility filter then returns entries sorted
// descending by composite score, ties broken by directory_id.
func filterAndSort(entries []models.DirectoryDescriptor, jobPackage models.PackageSize, driverCaps interfaces.DriverCapabilities, health interfaces.HealthMonitor) []models.ScoredDirectory {
	scored:= make([]models.ScoredDirectory, 0, len(entries))
	for _, d:= range entries {
		unhealthy:= health != nil && health.IsUnhealthy(d.DirectoryID)
		if !eligible(d, jobPackage, driverCaps, unhealthy) {
			continue
		}

		// Until the health monitor has observations for this directory, assume
		// a neutral success rate rather than penalising untested entries.
		successRate:= 0.5
		failureRate:= 0.5
		if health != nil {
			if rec, ok:= health.Snapshot(d.DirectoryID); ok {
				successRate = rec.SuccessRate
				failureRate = 1 - rec.SuccessRate
			}
		}

		scored = append(scored, models.ScoredDirectory{
			Descriptor: d,
			CompositeScore: CompositeScore(d, successRate),
			SuccessRate: successRate,
			FailureRate: failureRate,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].CompositeScore != scored[j].CompositeScore {
			return scored[i].CompositeScore > scored[j].CompositeScore
		}
		return scored[i].Descriptor.DirectoryID < scored[j].Descriptor.DirectoryID
	})

	return scored
}
