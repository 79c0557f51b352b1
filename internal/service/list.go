package service

import (
	"context"
	"fmt"

	"github.com/krmanik/ankiaddons/internal/catalog"
	"github.com/krmanik/ankiaddons/internal/manifest"
)

// AddonCatalog reads and removes installed addons.
type AddonCatalog interface {
	List() ([]catalog.Addon, []catalog.Problem, error)
	Get(name string) (catalog.Addon, error)
	Remove(name string) error
}

// ListService orchestrates the list operation.
type ListService struct {
	catalog AddonCatalog
	enabled Enabler
}

// NewListService creates a new list service.
func NewListService(cat AddonCatalog, enabled Enabler) *ListService {
	return &ListService{catalog: cat, enabled: enabled}
}

// AddonStatus is an installed addon and whether it is switched on.
type AddonStatus struct {
	catalog.Addon
	Enabled bool
}

// ListRequest filters the listing.
type ListRequest struct {
	// Kind, when set, limits the listing to one addon kind.
	Kind manifest.Kind
	// EnabledOnly drops disabled addons.
	EnabledOnly bool
}

// ListResult contains the results of the list operation.
type ListResult struct {
	Addons   []AddonStatus
	Problems []catalog.Problem
}

// List returns installed addons sorted by name.
func (s *ListService) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addons, problems, err := s.catalog.List()
	if err != nil {
		return nil, err
	}

	result := &ListResult{Problems: problems}
	for _, a := range addons {
		if req.Kind != "" && a.Manifest.Kind != req.Kind {
			continue
		}
		on, err := s.enabled.IsEnabled(a.Manifest.Kind, a.Manifest.Name)
		if err != nil {
			return nil, fmt.Errorf("read preferences: %w", err)
		}
		if req.EnabledOnly && !on {
			continue
		}
		result.Addons = append(result.Addons, AddonStatus{Addon: a, Enabled: on})
	}
	return result, nil
}

// Info returns one installed addon.
func (s *ListService) Info(ctx context.Context, name string) (*AddonStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := s.catalog.Get(manifest.NameFromInput(name))
	if err != nil {
		return nil, err
	}
	on, err := s.enabled.IsEnabled(a.Manifest.Kind, a.Manifest.Name)
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	return &AddonStatus{Addon: a, Enabled: on}, nil
}
