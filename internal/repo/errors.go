package repo

import "github.com/animus-labs/evalcore/internal/domain"

var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)
