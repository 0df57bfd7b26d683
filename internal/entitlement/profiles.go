package entitlement

import (
	"context"
	"time"

	"invoicely/internal/billing"
	"invoicely/internal/types"
)

// loadOrCreate returns the stored profile, creating the default Free record on
// first contact. A lost creation race re-reads the winner's record.
func loadOrCreate(ctx context.Context, store ProfileStore, userID string, now time.Time) (*types.CloudProfile, error) {
	p, err := store.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !types.IsNotFound(err) {
		return nil, err
	}

	p = types.NewDefaultProfile(userID, billing.PeriodStart(now), now.UTC())
	if err := store.Create(ctx, p); err != nil {
		if types.IsCode(err, types.ErrCodeConflictExists) {
			return store.Get(ctx, userID)
		}
		return nil, err
	}
	return p, nil
}

func isConflict(err error) bool {
	return types.IsCode(err, types.ErrCodeConflictConcurrent)
}

// unavailable wraps a store failure as NetworkUnavailable unless it already
// carries that code.
func unavailable(msg string, err error) error {
	if types.IsCode(err, types.ErrCodeNetworkUnavailable) {
		return err
	}
	return types.NewAppError(types.ErrCodeNetworkUnavailable, msg, err)
}

func retryExhausted(op string, attempts int) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictRetryExhausted,
		op+": concurrent updates kept conflicting; safe to retry", nil,
		map[string]any{"attempts": attempts})
}

func validateUserID(userID string) error {
	if userID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "user id is required", nil)
	}
	return nil
}
