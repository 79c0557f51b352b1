package service

import (
	"context"
	"fmt"
)

// ToggleService switches installed addons on and off.
type ToggleService struct {
	catalog AddonCatalog
	enabled Enabler
}

// NewToggleService creates a new toggle service.
func NewToggleService(cat AddonCatalog, enabled Enabler) *ToggleService {
	return &ToggleService{catalog: cat, enabled: enabled}
}

// Enable switches name on for its kind. The addon must be installed.
func (s *ToggleService) Enable(ctx context.Context, name string) error {
	return s.set(ctx, name, true)
}

// Disable switches name off for its kind.
func (s *ToggleService) Disable(ctx context.Context, name string) error {
	return s.set(ctx, name, false)
}

func (s *ToggleService) set(ctx context.Context, name string, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, err := s.catalog.Get(name)
	if err != nil {
		return err
	}
	kind := a.Manifest.Kind
	if on {
		err = s.enabled.Enable(kind, a.Manifest.Name)
	} else {
		err = s.enabled.Disable(kind, a.Manifest.Name)
	}
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}
