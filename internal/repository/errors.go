// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// engines to distinguish between different failure scenarios without
// depending on database/sql directly.
package repository

import "errors"

// ErrNotFound is returned when a lookup by id finds no matching row.
// Callers translate this into engine.KindNotFound.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a guarded update matches no row, such as
// ProductRepo.DecrementStockTx finding a changed version. Duplicate-key
// insert failures are not mapped to it; they are returned as the
// driver's *mysql.MySQLError.
var ErrConflict = errors.New("conflict")
