package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/flowmesh/core"
)

// Repository resolves flow definitions.
type Repository interface {
	Get(ctx context.Context, orgCode, code string) (*core.Flow, error)
	GetByCodes(ctx context.Context, orgCode string, codes []string) ([]*core.Flow, error)
}

// InMemoryRepository keeps flows keyed by code. A flow without an
// organization code is visible to every organization.
type InMemoryRepository struct {
	mu    sync.RWMutex
	flows map[string]*core.Flow
}

// NewInMemoryRepository creates a repository holding flows.
func NewInMemoryRepository(flows ...*core.Flow) *InMemoryRepository {
	r := &InMemoryRepository{flows: map[string]*core.Flow{}}
	r.Add(flows...)
	return r
}

// Add stores flows, replacing any with the same code.
func (r *InMemoryRepository) Add(flows ...*core.Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range flows {
		r.flows[f.Code] = f
	}
}

// Codes returns the codes of all stored flows.
func (r *InMemoryRepository) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.flows))
	for c := range r.flows {
		out = append(out, c)
	}
	return out
}

// Get implements Repository.
func (r *InMemoryRepository) Get(_ context.Context, orgCode, code string) (*core.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[code]
	if !ok || !visible(f, orgCode) {
		return nil, fmt.Errorf("%w: %s", core.ErrFlowNotFound, code)
	}
	return f, nil
}

// GetByCodes implements Repository and tool.FlowLookup. Unknown codes are omitted.
func (r *InMemoryRepository) GetByCodes(_ context.Context, orgCode string, codes []string) ([]*core.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Flow, 0, len(codes))
	for _, c := range codes {
		if f, ok := r.flows[c]; ok && visible(f, orgCode) {
			out = append(out, f)
		}
	}
	return out, nil
}

func visible(f *core.Flow, orgCode string) bool {
	return f.OrganizationCode == "" || orgCode == "" || f.OrganizationCode == orgCode
}

// LoadFile decodes a YAML or JSON flow definition.
func LoadFile(path string) (*core.Flow, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow %s: %w", path, err)
	}
	f := &core.Flow{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, f)
	case ".json":
		err = json.Unmarshal(b, f)
	default:
		return nil, fmt.Errorf("unsupported flow file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("decode flow %s: %w", path, err)
	}
	if f.Code == "" {
		f.Code = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// NewFileRepository loads every *.yaml, *.yml and *.json flow below dir.
// When validate is non-nil each flow is validated on load.
func NewFileRepository(dir string, validate func(*core.Flow) error) (*InMemoryRepository, error) {
	r := NewInMemoryRepository()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
		default:
			return nil
		}
		f, err := LoadFile(path)
		if err != nil {
			return err
		}
		if validate != nil {
			if err := validate(f); err != nil {
				return err
			}
		}
		r.Add(f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
