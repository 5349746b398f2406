package catalog

import (
	"math"

	"github.com/autobolt/runner/internal/models"
)

// domainAuthorityScale is the assumed upper bound of the domainAuthority
// input (a conventional 0-100 SEO metric), used to normalise it to [0,1]
// as domain_authority_norm for the composite score.
const domainAuthorityScale = 100.0

// CompositeScore implements the directory priority formula:
//
//	score = 0.30*domain_authority_norm + 0.25*log10(traffic+1)/6 +
//	 0.25*category_bonus + 0.20*rolling_success_rate
func CompositeScore(d models.DirectoryDescriptor, successRate float64) float64 {
	domainNorm:= d.DomainAuthority / domainAuthorityScale
	if domainNorm > 1 {
		domainNorm = 1
	}
	if domainNorm < 0 {
		domainNorm = 0
	}

	trafficTerm:= math.Log10(d.TrafficVolume+1) / 6
	if trafficTerm > 1 {
		trafficTerm = 1
	}

	categoryBonus:= 0.0
	if models.HasCategoryBonus(d.Category) {
		categoryBonus = 1
	}

	return 0.30*domainNorm + 0.25*trafficTerm + 0.25*categoryBonus + 0.20*successRate
}
