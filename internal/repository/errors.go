package repository

import (
	"errors"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
)

// unavailable marks a driver error as a retryable store failure.
func unavailable(op string, err error) error {
	return common.NewAppError(common.CodeStoreUnavailable, op, errors.Join(common.ErrStoreUnavailable, err))
}
