// Package position orders a circle's members into the payout rotation.
package position

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// ScoreLookup resolves a user's reputation score. Lookup failure is treated
// as a score of zero; assignment must never block circle activation.
type ScoreLookup interface {
	ScoreOf(ctx context.Context, user uuid.UUID) (int64, error)
}

// Assign returns the payout rotation for the joined members: the creator is
// pinned to position 1, everyone else is ordered by descending reputation
// with ties keeping join order. The returned slice index i holds the user
// at position i+1.
func Assign(ctx context.Context, joined []uuid.UUID, creator uuid.UUID, scores ScoreLookup) []uuid.UUID {
	rest := make([]uuid.UUID, 0, len(joined))
	for _, u := range joined {
		if u != creator {
			rest = append(rest, u)
		}
	}

	scored := make(map[uuid.UUID]int64, len(rest))
	for _, u := range rest {
		score, err := scores.ScoreOf(ctx, u)
		if err != nil {
			score = 0
		}
		scored[u] = score
	}

	sort.SliceStable(rest, func(i, j int) bool {
		return scored[rest[i]] > scored[rest[j]]
	})

	rotation := make([]uuid.UUID, 0, len(joined))
	rotation = append(rotation, creator)
	rotation = append(rotation, rest...)
	return rotation
}
