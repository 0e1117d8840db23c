package ranking

import (
	"errors"
	"fmt"

	"github.com/okian/receval/internal/domain/model"
)

// Sentinel error kinds for this package.
var (
	ErrMismatchedUsers   = errors.New("mismatched user sets")
	ErrInvalidCutoff     = errors.New("cutoff k must be positive")
	ErrEmptyItemUniverse = errors.New("item universe is empty")
)

// MismatchedUserSetError reports that recommendations and relevance are keyed
// by different users. No metric value is produced when it is returned.
type MismatchedUserSetError struct {
	Metric string
	// MissingInRecommendations lists users present only in relevance.
	MissingInRecommendations []model.UserID
	// MissingInRelevance lists users present only in recommendations.
	MissingInRelevance []model.UserID
}

func (e *MismatchedUserSetError) Error() string {
	return fmt.Sprintf("%s: %s: %d user(s) missing in recommendations %v, %d user(s) missing in relevance %v",
		e.Metric, ErrMismatchedUsers,
		len(e.MissingInRecommendations), preview(e.MissingInRecommendations),
		len(e.MissingInRelevance), preview(e.MissingInRelevance))
}

// Is matches ErrMismatchedUsers.
func (e *MismatchedUserSetError) Is(target error) bool { return target == ErrMismatchedUsers }

const previewLimit = 5

func preview(ids []model.UserID) []model.UserID {
	if len(ids) > previewLimit {
		return ids[:previewLimit]
	}
	return ids
}

// Warning is a non-fatal diagnostic raised while computing a metric.
type Warning struct {
	Metric string       `json:"metric"`
	UserID model.UserID `json:"user_id"`
	Reason string       `json:"reason"`
}

// ReasonZeroRelevance marks a user excluded because its relevance set is empty.
const ReasonZeroRelevance = "zero relevance: user has no held-out items"
