// Package catalog loads, normalises, filters, and scores the directory
// catalog consumed by the scheduler. The catalog is loaded once
// at startup and is read-only thereafter; rolling statistics live in the
// health monitor, never here.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/models"
)

// flexTier accepts either a tier name ("starter") or a zero-based ordinal
// (0=starter.. 3=enterprise), the way the catalog file may encode it.
type flexTier models.PackageSize

var tierByOrdinal = []models.PackageSize{
	models.PackageStarter, models.PackageGrowth, models.PackageProfessional, models.PackageEnterprise,
}

func (t *flexTier) UnmarshalJSON(data []byte) error {
	var s string
	if err:= json.Unmarshal(data, &s); err == nil {
		*t = flexTier(models.PackageSize(strings.ToLower(strings.TrimSpace(s))))
		return nil
	}
	var n int
	if err:= json.Unmarshal(data, &n); err == nil {
		if n < 0 || n >= len(tierByOrdinal) {
			return fmt.Errorf("tier ordinal %d out of range", n)
		}
		*t = flexTier(tierByOrdinal[n])
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into tier", string(data))
}

// flexFloat64 coerces a numeric field that may arrive as either a JSON
// number or a numeric string, matching the catalog's "coerce numeric
// priorities" loading rule.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err:= json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err:= json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err:= strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("cannot parse %q as float64", s)
		}
		*f = flexFloat64(n)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// rawDescriptor mirrors models.DirectoryDescriptor but tolerates the loosely
// typed fields (priority, tier) a hand-maintained catalog file may contain.
type rawDescriptor struct {
	DirectoryID string `json:"directoryId"`
	Name string `json:"name"`
	SubmissionURL string `json:"submissionUrl"`
	Category string `json:"category"`
	RequiresLogin bool `json:"requiresLogin"`
	HasCaptcha bool `json:"hasCaptcha"`
	HasAntiBot bool `json:"hasAntiBot"`
	Difficulty models.Difficulty `json:"difficulty"`
	Tier flexTier `json:"tier"`
	Priority flexFloat64 `json:"priority"`
	DomainAuthority flexFloat64 `json:"domainAuthority"`
	TrafficVolume flexFloat64 `json:"trafficVolume"`
	FormMapping map[string][]string `json:"formMapping"`
	AvgResponseMS flexFloat64 `json:"averageResponseTimeMs"`
}

func (r rawDescriptor) normalise() (models.DirectoryDescriptor, error) {
	if strings.TrimSpace(r.SubmissionURL) == "" {
		return models.DirectoryDescriptor{}, fmt.Errorf("directory %q has no submission_url", r.DirectoryID)
	}
	tier:= models.PackageSize(r.Tier)
	if tier == "" {
		tier = models.PackageStarter
	}
	difficulty:= r.Difficulty
	if difficulty == "" {
		difficulty = models.DifficultyMedium
	}
	return models.DirectoryDescriptor{
		DirectoryID: r.DirectoryID,
		Name: r.Name,
		SubmissionURL: r.SubmissionURL,
		Category: r.Category,
		RequiresLogin: r.RequiresLogin,
		HasCaptcha: r.HasCaptcha,
		HasAntiBot: r.HasAntiBot,
		Difficulty: difficulty,
		Tier: tier,
		Priority: float64(r.Priority),
		DomainAuthority: float64(r.DomainAuthority),
		TrafficVolume: float64(r.TrafficVolume),
		FormMapping: models.NormalizeFormMapping(r.FormMapping),
		AverageResponseTimeMS: float64(r.AvgResponseMS),
	}, nil
}

// rawDirectoryFile is the wrapped-object catalog shape: {"directories": [...]}
// or {"items": [...]}, the alternative to a bare top-level array.
type rawDirectoryFile struct {
	Directories []rawDescriptor `json:"directories"`
	Items []rawDescriptor `json:"items"`
}

// parseCatalogBytes parses either supported catalog file shape into raw
// descriptors: a bare array, or an object wrapping one under "directories"
// or "items".
func parseCatalogBytes(data []byte) ([]rawDescriptor, error) {
	var bare []rawDescriptor
	if err:= json.Unmarshal(data, &bare); err == nil {
		return bare, nil
	}

	var wrapped rawDirectoryFile
	if err:= json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("catalog file is neither a bare array nor a {directories|items} object: %w", err)
	}
	if len(wrapped.Directories) > 0 {
		return wrapped.Directories, nil
	}
	return wrapped.Items, nil
}

// ResolveCatalogPath picks the catalog file to load: configuredPath if
// non-empty, otherwise the first existing entry in the documented search list.
func ResolveCatalogPath(configuredPath string, searchPaths []string) (string, error) {
	if configuredPath != "" {
		return configuredPath, nil
	}
	for _, p:= range searchPaths {
		if _, err:= os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no catalog file found: tried %v", searchPaths)
}

// LoadFile reads and normalises the catalog file at path. Entries without a
// submission URL are rejected (logged and dropped, not fatal to the whole
// load unless every entry is invalid).
func LoadFile(path string, logger *common.Logger) ([]models.DirectoryDescriptor, error) {
	data, err:= os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	raws, err:= parseCatalogBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}

	descriptors:= make([]models.DirectoryDescriptor, 0, len(raws))
	for _, r:= range raws {
		d, err:= r.normalise()
		if err != nil {
			logger.Warn().Str("directory_id", r.DirectoryID).Err(err).Msg("Catalog: dropping entry without submission URL")
			continue
		}
		descriptors = append(descriptors, d)
	}

	if len(descriptors) == 0 {
		return nil, fmt.Errorf("catalog file %s contained no valid directory entries", path)
	}

	return descriptors, nil
}

