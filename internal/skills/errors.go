package skills

import "errors"

var (
	// ErrUnknownSkill is returned when a skill name is not in the catalog.
	ErrUnknownSkill = errors.New("unknown skill")

	// ErrExclusiveConflict is returned when a combination holds two skills
	// from the same exclusive category.
	ErrExclusiveConflict = errors.New("exclusive category conflict")

	// ErrInvalidCatalog is returned when the catalog document cannot be used.
	ErrInvalidCatalog = errors.New("invalid skills catalog")
)
