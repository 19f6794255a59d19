package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	// ErrStaleWrite signals a compare-and-set that matched no row: another
	// request won the race or the guard condition no longer holds.
	ErrStaleWrite = errors.New("stale write")
)
