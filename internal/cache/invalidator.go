package cache

import (
	"errors"
)

// Invalidator marks cached entries stale.
type Invalidator interface {
	Invalidate(keys []string) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(keys []string) error

// Invalidate calls f(keys).
func (f InvalidatorFunc) Invalidate(keys []string) error { return f(keys) }

// Multi invalidates through every target and joins their errors.
type Multi []Invalidator

// Invalidate calls each non-nil target even when an earlier one fails.
func (m Multi) Invalidate(keys []string) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		if err := inv.Invalidate(keys); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
