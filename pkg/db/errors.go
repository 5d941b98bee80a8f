// Package db implements the database facade: the manifest, the per-level game header
// stores, the ingest loops and query dispatch over the storage engine.
package db

import "errors"

// Manifest errors.
var (
	ErrKeyMismatch        = errors.New("db: manifest key mismatch")
	ErrEndiannessMismatch = errors.New("db: manifest endianness mismatch")
	ErrInvalidManifest    = errors.New("db: invalid manifest")
	ErrMissingManifest    = errors.New("db: missing manifest")
)

// Input format errors. The container formats carry their own (bcgn.ErrInvalidHeader
// and friends); PGN syntax errors are reported here.
var (
	ErrPGNSyntax = errors.New("db: pgn syntax error")
)

// Query errors.
var (
	ErrUnknownDbKey         = errors.New("db: unknown database key")
	ErrUnsupportedSelector  = errors.New("db: unsupported selector")
	ErrInvalidQueryPosition = errors.New("db: invalid query position")
)

// Concurrency errors.
var (
	ErrLockHeld = errors.New("db: database lock held")
)
