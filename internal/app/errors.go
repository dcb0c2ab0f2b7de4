package app

import (
	"fmt"

	"github.com/hylla/herbchain/internal/domain"
)

// ErrNotFound and related errors describe lookup and input failures raised by the service layer.
var (
	ErrNotFound       = domain.ErrNotFound
	ErrActorRequired  = fmt.Errorf("%w: actor id is required", domain.ErrValidation)
	ErrRecordRequired = fmt.Errorf("%w: record id is required", domain.ErrValidation)
	ErrCodeRequired   = fmt.Errorf("%w: code is required", domain.ErrValidation)
)
