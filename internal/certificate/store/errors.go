package store

import (
	"fmt"

	"certledger/pkg/platform/sentinel"
)

// ErrDuplicateNumber is returned by Create when the certificate number is
// already taken. It matches sentinel.ErrConflict.
var ErrDuplicateNumber = fmt.Errorf("certificate number already exists: %w", sentinel.ErrConflict)
