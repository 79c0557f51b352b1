package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/krmanik/ankiaddons/internal/catalog"
)

// RemoveService orchestrates the remove operation.
type RemoveService struct {
	catalog AddonCatalog
}

// NewRemoveService creates a new remove service.
func NewRemoveService(cat AddonCatalog) *RemoveService {
	return &RemoveService{catalog: cat}
}

// RemoveRequest contains the parameters for removing addons.
type RemoveRequest struct {
	Names []string
}

// RemoveResult contains the results of the remove operation.
type RemoveResult struct {
	Removed []string
	// Skipped lists names that were not installed.
	Skipped []string
}

// Execute removes each named addon and disables it everywhere.
func (s *RemoveService) Execute(ctx context.Context, req RemoveRequest) (*RemoveResult, error) {
	if len(req.Names) == 0 {
		return nil, fmt.Errorf("no addons specified")
	}

	result := &RemoveResult{}
	for _, name := range req.Names {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := s.catalog.Remove(name)
		switch {
		case errors.Is(err, catalog.ErrNotInstalled):
			result.Skipped = append(result.Skipped, name)
		case err != nil:
			return result, fmt.Errorf("remove %s: %w", name, err)
		default:
			result.Removed = append(result.Removed, name)
		}
	}
	return result, nil
}
