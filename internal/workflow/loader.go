// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Workflow struct {
	Slug        string `yaml:"slug" json:"slug"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Category    string `yaml:"category,omitempty" json:"category,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// Parse decodes one YAML workflow definition and validates it. Steps are
// ordered by number before validation so authoring order does not matter.
func Parse(data []byte) (Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return Workflow{}, fmt.Errorf("%w: decode yaml: %w", ErrInvalidWorkflow, err)
	}

	wf.Slug = strings.TrimSpace(wf.Slug)
	if wf.Slug == "" {
		return Workflow{}, fmt.Errorf("%w: missing slug", ErrInvalidWorkflow)
	}

	slices.SortStableFunc(wf.Steps, func(a, b Step) int {
		return a.Number - b.Number
	})

	if err := Validate(wf.Steps); err != nil {
		return Workflow{}, fmt.Errorf("workflow %q: %w", wf.Slug, err)
	}

	return wf, nil
}

// Catalog is the set of workflows available to runs, keyed by slug.
type Catalog struct {
	mu        sync.RWMutex
	workflows map[string]Workflow
}

func NewCatalog(workflows ...Workflow) (*Catalog, error) {
	c := &Catalog{workflows: make(map[string]Workflow, len(workflows))}
	for _, wf := range workflows {
		if err := c.Add(wf); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a workflow after validating its steps.
func (c *Catalog) Add(wf Workflow) error {
	if err := Validate(wf.Steps); err != nil {
		return fmt.Errorf("workflow %q: %w", wf.Slug, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.workflows[wf.Slug]; exists {
		return fmt.Errorf("%w: duplicate slug %q", ErrInvalidWorkflow, wf.Slug)
	}
	c.workflows[wf.Slug] = wf
	return nil
}

func (c *Catalog) Get(slug string) (Workflow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	wf, ok := c.workflows[slug]
	return wf, ok
}

// List returns all workflows ordered by slug.
func (c *Catalog) List() []Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Workflow, 0, len(c.workflows))
	for _, wf := range c.workflows {
		out = append(out, wf)
	}
	slices.SortFunc(out, func(a, b Workflow) int {
		return strings.Compare(a.Slug, b.Slug)
	})
	return out
}

// LoadFS parses every *.yaml / *.yml file at the root of fsys. A file that
// fails to load is left out of the catalog and reported in the returned
// error; the other workflows stay usable.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	catalog, _ := NewCatalog()
	var errs []error

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch path.Ext(entry.Name()) {
		case ".yaml", ".yml":
		default:
			continue
		}

		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}

		wf, err := Parse(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}
		if err := catalog.Add(wf); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
		}
	}

	return catalog, errors.Join(errs...)
}
