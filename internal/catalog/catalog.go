package catalog

import (
	"fmt"
	"sync"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
)

// Catalog is the read-only, loaded-once directory list. It
// never mutates after Load; per-directory rolling stats are consulted
// through the injected HealthMonitor, never stored here.
type Catalog struct {
	logger *common.Logger
	health interfaces.HealthMonitor

	mu sync.RWMutex
	entries []models.DirectoryDescriptor
}

// NewCatalog creates an empty catalog. Call Load before Select.
func NewCatalog(logger *common.Logger, health interfaces.HealthMonitor) *Catalog {
	return &Catalog{logger: logger, health: health}
}

// Load reads and normalises the catalog file at path, replacing any
// previously loaded entries. Intended to be called once at startup.
func (c *Catalog) Load(path string) error {
	entries, err:= LoadFile(path, c.logger)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	c.logger.Info().Str("path", path).Int("count", len(entries)).Msg("Catalog: loaded directory entries")
	return nil
}

// Len returns the number of loaded catalog entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a copy of every loaded catalog entry, independent of any
// job's filtering and budget.
func (c *Catalog) Entries() []models.DirectoryDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out:= make([]models.DirectoryDescriptor, len(c.entries))
	copy(out, c.entries)
	return out
}

// Select returns the ordered, filtered, budget-limited directories eligible
// for job.
func (c *Catalog) Select(job models.Job, driverCaps interfaces.DriverCapabilities) ([]models.ScoredDirectory, error) {
	c.mu.RLock()
	entries:= make([]models.DirectoryDescriptor, len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog has no loaded entries")
	}

	filtered:= filterAndSort(entries, job.PackageSize, driverCaps, c.health)

	limit:= job.ResolvedDirectoryLimit()
	if limit <= 0 {
		return []models.ScoredDirectory{}, nil
	}
	if limit >= len(filtered) {
		if limit > len(filtered) {
			c.logger.Warn().
				Str("job_id", job.JobID).
				Int("requested", limit).
				Int("eligible", len(filtered)).
				Msg("Catalog: eligible pool smaller than requested budget")
		}
		return filtered, nil
	}
	return filtered[:limit], nil
}

var _ interfaces.DirectoryCatalog = (*Catalog)(nil)
