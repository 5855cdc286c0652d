package remote

import (
	"context"
	"errors"

	"github.com/cumba2321/classsync/internal/docstore"
	"github.com/cumba2321/classsync/internal/model"
)

// classify maps a backend error onto the result taxonomy. Errors that are
// already classified pass through unchanged; anything unrecognized is
// treated as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *model.Error
	if errors.As(err, &me) {
		return me
	}
	switch {
	case errors.Is(err, docstore.ErrPermissionDenied):
		return model.WrapError(model.KindPermissionDenied, op+": permission denied", err)
	case errors.Is(err, docstore.ErrNotFound):
		return model.WrapError(model.KindNotFound, op+": not found", err)
	case errors.Is(err, docstore.ErrInvalidPath):
		return model.WrapError(model.KindValidation, op+": invalid reference", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return model.WrapError(model.KindTransient, op+": interrupted", err)
	default:
		return model.WrapError(model.KindTransient, op+" failed", err)
	}
}
