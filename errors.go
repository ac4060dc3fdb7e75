package cachettl

import (
	"errors"
	"fmt"

	"github.com/cuemby/cachettl/pkg/manager"
	"github.com/cuemby/cachettl/pkg/store"
)

// Sentinel errors embedders can match with errors.Is. Error() text
// matches the exact wording sections 6/8 of the cache's specification
// require, since the reference scenarios treat those strings as
// testable properties.
var (
	// ErrTTLTooLow and ErrInstallFailed originate from the Manager,
	// which owns TTL validation and recipe installation.
	ErrTTLTooLow     = manager.ErrTTLTooLow
	ErrInstallFailed = manager.ErrInstallFailed

	ErrNotReady = errors.New("data is not ready")
	ErrNotFound = errors.New("data with the given key is not yet available")
)

// notFoundError carries the missed key so Error() renders "data with
// the given key <K> is not yet available".
type notFoundError struct {
	key store.Key
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("data with the given key %s is not yet available", e.key.String())
}

func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }
