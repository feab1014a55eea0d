// Package catalog is the read side of configuration management: it loads
// tenant configurations from TOML documents laid out as
// <dir>/<clientId>/<configurationId>.toml.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

// ErrNotFound is returned by GetByID for unknown configurations.
var ErrNotFound = domain.ErrConfigurationNotFound

// document is the on-disk shape of one configuration.
type document struct {
	ID              string            `toml:"id"`
	Name            string            `toml:"name"`
	Protocol        string            `toml:"protocol"`
	PathPattern     string            `toml:"path_pattern"`
	FilenamePattern string            `toml:"filename_pattern"`
	Extension       string            `toml:"extension"`
	Cron            string            `toml:"cron"`
	Timezone        string            `toml:"timezone"`
	Active          *bool             `toml:"active"`
	LastModifiedBy  string            `toml:"last_modified_by"`
	Settings        map[string]any    `toml:"settings"`
	Events          []eventDocument   `toml:"events"`
	Commands        []commandDocument `toml:"commands"`
}

type eventDocument struct {
	Type     string            `toml:"type"`
	Metadata map[string]string `toml:"metadata"`
}

type commandDocument struct {
	Type     string            `toml:"type"`
	Target   string            `toml:"target"`
	Metadata map[string]string `toml:"metadata"`
}

// Catalog reads configurations from disk on every call, so edits and
// deactivations are picked up without a restart.
type Catalog struct {
	dir string
}

// New returns a catalog rooted at dir.
func New(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Dir returns the catalog root directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Load parses a single configuration file. The client id is the name of the
// containing directory; the id defaults to the file name without extension.
func Load(path string) (domain.Configuration, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return domain.Configuration{}, fmt.Errorf("resolving path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return domain.Configuration{}, fmt.Errorf("reading %q: %w", absPath, err)
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return domain.Configuration{}, fmt.Errorf("parsing %q: %w", absPath, err)
	}

	cfg := domain.Configuration{
		ClientID:        filepath.Base(filepath.Dir(absPath)),
		ID:              doc.ID,
		Name:            doc.Name,
		Protocol:        domain.ParseProtocol(doc.Protocol),
		Settings:        doc.Settings,
		PathPattern:     doc.PathPattern,
		FilenamePattern: doc.FilenamePattern,
		Extension:       doc.Extension,
		Cron:            doc.Cron,
		Timezone:        doc.Timezone,
		Active:          doc.Active == nil || *doc.Active,
		LastModifiedBy:  doc.LastModifiedBy,
		ETag:            etag(data),
	}
	if cfg.ID == "" {
		cfg.ID = strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	}
	for _, e := range doc.Events {
		cfg.Events = append(cfg.Events, domain.EventDefinition{Type: e.Type, Metadata: e.Metadata})
	}
	for _, c := range doc.Commands {
		cfg.Commands = append(cfg.Commands, domain.CommandDefinition{Type: c.Type, Target: c.Target, Metadata: c.Metadata})
	}
	return cfg, nil
}

// etag is the optimistic-concurrency token of a stored document.
func etag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Discover finds and loads every configuration under dir, sorted by client
// then id. Duplicate ids within a client are an error.
func Discover(dir string) ([]domain.Configuration, error) {
	pattern := filepath.Join(dir, "*", "*.toml")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing %q: %w", pattern, err)
	}

	seen := make(map[string]string, len(matches))
	configs := make([]domain.Configuration, 0, len(matches))
	for _, match := range matches {
		cfg, err := Load(match)
		if err != nil {
			return nil, err
		}
		if prev, exists := seen[cfg.Key()]; exists {
			return nil, fmt.Errorf("duplicate configuration %q in %s and %s", cfg.Key(), prev, match)
		}
		seen[cfg.Key()] = match
		configs = append(configs, cfg)
	}

	sortConfigurations(configs)
	return configs, nil
}

// List returns all configurations, active or not.
func (c *Catalog) List(ctx context.Context) ([]domain.Configuration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Discover(c.dir)
}

// GetActiveConfigurations returns configurations with Active set.
func (c *Catalog) GetActiveConfigurations(ctx context.Context) ([]domain.Configuration, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, cfg := range all {
		if cfg.Active {
			active = append(active, cfg)
		}
	}
	return active, nil
}

// GetByID reloads one configuration from disk.
func (c *Catalog) GetByID(ctx context.Context, clientID, id string) (domain.Configuration, error) {
	if err := ctx.Err(); err != nil {
		return domain.Configuration{}, err
	}
	if !safeSegment(clientID) || !safeSegment(id) {
		return domain.Configuration{}, fmt.Errorf("configuration %s/%s: %w", clientID, id, domain.ErrConfigurationNotFound)
	}

	// Fast path: file named after the id.
	path := filepath.Join(c.dir, clientID, id+".toml")
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		if err != nil {
			return domain.Configuration{}, err
		}
		if cfg.ID == id {
			return cfg, nil
		}
	}

	// Explicit ids may differ from file names.
	matches, err := filepath.Glob(filepath.Join(c.dir, clientID, "*.toml"))
	if err != nil {
		return domain.Configuration{}, err
	}
	for _, match := range matches {
		cfg, err := Load(match)
		if err != nil {
			return domain.Configuration{}, err
		}
		if cfg.ID == id {
			return cfg, nil
		}
	}
	return domain.Configuration{}, fmt.Errorf("configuration %s/%s: %w", clientID, id, domain.ErrConfigurationNotFound)
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func sortConfigurations(configs []domain.Configuration) {
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].ClientID != configs[j].ClientID {
			return configs[i].ClientID < configs[j].ClientID
		}
		return configs[i].ID < configs[j].ID
	})
}
