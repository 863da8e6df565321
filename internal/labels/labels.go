// Package labels manages named label groups: the (label, color) sets an
// operator picks from when starting a continuous-label session. Groups live
// as YAML files in the labels directory; legacy "label,color" .lblgroup files
// are read as well.
package labels

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/droneai/review-agent/internal/export"
	"github.com/droneai/review-agent/internal/logging"
	"github.com/droneai/review-agent/internal/overlay"
	"github.com/droneai/review-agent/internal/session"
)

const (
	extYAML   = ".yaml"
	extYML    = ".yml"
	extLegacy = ".lblgroup"
)

var ErrInvalidGroup = errors.New("invalid label group")

type Group struct {
	Name   string          `json:"name" yaml:"name"`
	Labels []session.Label `json:"labels" yaml:"labels"`
}

// Validate checks the group has a name and unique, non-empty labels with
// parseable colors. Empty colors are allowed and render in the default color.
func (g Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	if len(g.Labels) == 0 {
		return fmt.Errorf("%w: at least one label is required", ErrInvalidGroup)
	}
	seen := make(map[string]bool, len(g.Labels))
	for _, l := range g.Labels {
		if strings.TrimSpace(l.Name) == "" {
			return fmt.Errorf("%w: empty label name", ErrInvalidGroup)
		}
		if seen[l.Name] {
			return fmt.Errorf("%w: duplicate label %q", ErrInvalidGroup, l.Name)
		}
		seen[l.Name] = true
		if l.Color != "" {
			if _, err := overlay.ParseHexColor(l.Color); err != nil {
				return fmt.Errorf("%w: label %q: %v", ErrInvalidGroup, l.Name, err)
			}
		}
	}
	return nil
}

// ParseLegacy reads "label,color" lines. Blank lines and lines without a
// comma are skipped.
func ParseLegacy(r io.Reader) ([]session.Label, error) {
	var out []session.Label
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		out = append(out, session.Label{
			Name:  strings.TrimSpace(parts[0]),
			Color: strings.TrimSpace(parts[1]),
		})
	}
	return out, sc.Err()
}

// LoadFile reads a group file. Legacy files take their group name from the
// file stem; YAML files without a name do too.
func LoadFile(path string) (*Group, error) {
	ext := strings.ToLower(filepath.Ext(path))
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var g Group
	switch ext {
	case extLegacy:
		labels, err := ParseLegacy(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		g = Group{Name: stem, Labels: labels}
	case extYAML, extYML:
		if err := yaml.NewDecoder(f).Decode(&g); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		if g.Name == "" {
			g.Name = stem
		}
	default:
		return nil, fmt.Errorf("%w: unsupported file %s", ErrInvalidGroup, filepath.Base(path))
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &g, nil
}

// SaveFile writes g as YAML into dir and returns the file path.
func SaveFile(dir string, g Group) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	data, err := yaml.Marshal(g)
	if err != nil {
		return "", err
	}
	return export.WriteFile(dir, FileName(g.Name), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// FileName is the on-disk name of a group.
func FileName(name string) string {
	return export.SafeName(name, "group") + extYAML
}

// IsGroupFile reports whether path has a label group extension.
func IsGroupFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case extYAML, extYML, extLegacy:
		return true
	}
	return false
}

// Catalog is an in-memory index of the group files in one directory.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	groups map[string]Group
}

func NewCatalog(dir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create labels dir: %w", err)
	}
	c := &Catalog{dir: dir, logger: logger, groups: map[string]Group{}}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Dir() string { return c.dir }

// Reload rescans the directory. Unreadable files are logged and skipped.
// When a YAML and a legacy file define the same group, YAML wins.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read labels dir: %w", err)
	}

	groups := make(map[string]Group)
	legacy := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !IsGroupFile(e.Name()) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		g, err := LoadFile(filepath.Join(c.dir, e.Name()))
		if err != nil {
			c.logger.Warn("skipping label group file", "file", e.Name(), "error", err)
			continue
		}
		isLegacy := strings.EqualFold(filepath.Ext(e.Name()), extLegacy)
		if _, dup := groups[g.Name]; dup && (isLegacy || !legacy[g.Name]) {
			continue
		}
		groups[g.Name] = *g
		legacy[g.Name] = isLegacy
	}

	c.mu.Lock()
	c.groups = groups
	c.mu.Unlock()

	c.logger.Debug("label groups loaded", "count", len(groups))
	return nil
}

// List returns groups sorted by name.
func (c *Catalog) List() []Group {
	c.mu.RLock()
	out := make([]Group, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, g)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) Get(name string) (Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[name]
	return g, ok
}

// Save writes the group and updates the index.
func (c *Catalog) Save(g Group) error {
	if _, err := SaveFile(c.dir, g); err != nil {
		return err
	}
	c.mu.Lock()
	c.groups[g.Name] = g
	c.mu.Unlock()
	c.logger.Info("label group saved", "name", g.Name, "labels", len(g.Labels))
	return nil
}
