package smoketest

import (
	"math/rand/v2"
	"slices"
)

const (
	startTimestamp = 1_600_000_000
	eventSpacing   = 60
	maxRating      = 5
)

// generateLog builds a reproducible log where every user's events are spread
// over the whole time range, so each user has interactions on both sides of
// any split quantile.
func generateLog(c *Config) []Row {
	rng := rand.New(rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15))

	rows := make([]Row, 0, c.Users*c.EventsPerUser)
	for u := 1; u <= c.Users; u++ {
		for range c.EventsPerUser {
			rows = append(rows, Row{
				UserID: int64(u),
				// A skewed item distribution gives the random model something to miss.
				ItemID: int64(1 + int(float64(c.Items)*rng.Float64()*rng.Float64())),
				Rating: float64(1 + rng.IntN(maxRating)),
			})
		}
	}
	rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	for i := range rows {
		rows[i].Timestamp = startTimestamp + int64(i)*eventSpacing
	}
	return rows
}

// heldOut lists every test item of a user in first-seen order. It is both the
// relevance and the oracle recommendation.
func heldOut(test []Row) map[int64][]int64 {
	recs := make(map[int64][]int64)
	seen := make(map[[2]int64]struct{})
	for _, r := range test {
		key := [2]int64{r.UserID, r.ItemID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		recs[r.UserID] = append(recs[r.UserID], r.ItemID)
	}
	return recs
}

// random recommends k distinct catalogue items per user.
func random(users []int64, catalogue []int64, k int, seed uint64) map[int64][]int64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	recs := make(map[int64][]int64, len(users))
	pool := slices.Clone(catalogue)
	for _, u := range users {
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		recs[u] = slices.Clone(pool[:min(k, len(pool))])
	}
	return recs
}

// distinctItems returns the sorted item ids of rows.
func distinctItems(rows []Row) []int64 {
	set := make(map[int64]struct{})
	for _, r := range rows {
		set[r.ItemID] = struct{}{}
	}
	out := make([]int64, 0, len(set))
	for it := range set {
		out = append(out, it)
	}
	slices.Sort(out)
	return out
}

// cutoff is the largest relevance set, so the oracle fits in its top K.
func cutoff(rel map[int64][]int64) int {
	k := 1
	for _, items := range rel {
		k = max(k, len(items))
	}
	return k
}

func usersOf(rel map[int64][]int64) []int64 {
	out := make([]int64, 0, len(rel))
	for u := range rel {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}
