// Package repository defines the storage contracts of the loyalty core and
// their MySQL implementations.  The sentinel errors below are shared by every
// implementation (including the in-memory one) so that the service layer can
// tell failure scenarios apart without knowing which backend is in use.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.  MySQL
// implementations translate sql.ErrNoRows into it.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing row,
// for example a second loyalty card for the same merchant and customer.
var ErrConflict = errors.New("conflict")
