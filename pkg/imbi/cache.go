package imbi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"imbi-automations/pkg/logx"
)

// CacheTTL is how long a metadata snapshot is considered fresh.
const CacheTTL = 15 * time.Minute

// cacheFileName is the snapshot file inside the cache directory.
const cacheFileName = "metadata.yaml"

// Snapshot is an immutable copy of registry metadata.
type Snapshot struct {
	LastUpdated          time.Time             `yaml:"last_updated"`
	Environments         []Environment         `yaml:"environments"`
	ProjectFactTypes     []ProjectFactType     `yaml:"project_fact_types"`
	ProjectFactTypeEnums []ProjectFactTypeEnum `yaml:"project_fact_type_enums"`
	ProjectTypes         []ProjectType         `yaml:"project_types"`
}

// Expired reports whether the snapshot is older than CacheTTL.
func (s *Snapshot) Expired(now time.Time) bool {
	return now.Sub(s.LastUpdated) > CacheTTL
}

// MetadataCache holds the current snapshot. Reads are lock-free; a refresh
// builds a new snapshot and swaps it in whole.
type MetadataCache struct {
	registry Registry
	dir      string
	current  atomic.Pointer[Snapshot]
	now      func() time.Time
	logger   *logx.Logger
}

// NewMetadataCache creates an empty cache persisted under dir.
func NewMetadataCache(registry Registry, dir string) *MetadataCache {
	c := &MetadataCache{
		registry: registry,
		dir:      dir,
		now:      time.Now,
		logger:   logx.NewLogger("imbi-cache"),
	}
	c.current.Store(&Snapshot{})
	return c
}

// Snapshot returns the current snapshot.
func (c *MetadataCache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Refresh loads the on-disk snapshot if it is fresh, otherwise fetches from
// the registry and writes a new snapshot. force skips the disk check.
func (c *MetadataCache) Refresh(ctx context.Context, force bool) error {
	path := filepath.Join(c.dir, cacheFileName)

	if !force {
		snap, err := readSnapshot(path)
		switch {
		case err == nil && !snap.Expired(c.now()):
			c.current.Store(snap)
			c.logger.Debug("Using cached metadata from %s", path)
			return nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			c.logger.Warn("Ignoring unreadable metadata cache %s: %v", path, err)
		}
	}

	snap, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.current.Store(snap)

	if err := writeSnapshot(path, snap); err != nil {
		c.logger.Warn("Failed to persist metadata cache: %v", err)
	}
	return nil
}

func (c *MetadataCache) fetch(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{LastUpdated: c.now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Environments, err = c.registry.GetEnvironments(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.ProjectFactTypes, err = c.registry.GetProjectFactTypes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.ProjectFactTypeEnums, err = c.registry.GetProjectFactTypeEnums(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.ProjectTypes, err = c.registry.GetProjectTypes(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to refresh imbi metadata: %w", err)
	}
	return snap, nil
}

func readSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &snap, nil
}

func writeSnapshot(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode metadata cache: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata cache: %w", err)
	}
	return os.Rename(tmp, path)
}

// TranslateEnvironments maps environment names or slugs to canonical names.
func (c *MetadataCache) TranslateEnvironments(values []string) ([]string, error) {
	snap := c.Snapshot()
	names := make([]string, 0, len(values))
	var unknown []string
	for _, value := range values {
		found := false
		for _, env := range snap.Environments {
			if strings.EqualFold(env.Name, value) || env.EffectiveSlug() == Slugify(value) {
				names = append(names, env.Name)
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, value)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown environments: %s", strings.Join(unknown, ", "))
	}
	return names, nil
}

// FactType returns the fact type whose normalized name matches name.
func (c *MetadataCache) FactType(name string) (*ProjectFactType, bool) {
	snap := c.Snapshot()
	want := NormalizeFactName(name)
	for i := range snap.ProjectFactTypes {
		if NormalizeFactName(snap.ProjectFactTypes[i].Name) == want {
			return &snap.ProjectFactTypes[i], true
		}
	}
	return nil, false
}

// EnumValues returns the allowed values for an enum fact type.
func (c *MetadataCache) EnumValues(factTypeID int) []string {
	snap := c.Snapshot()
	var values []string
	for _, e := range snap.ProjectFactTypeEnums {
		if e.FactTypeID == factTypeID {
			values = append(values, e.Value)
		}
	}
	return values
}
