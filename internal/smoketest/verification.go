package smoketest

import (
	"errors"
	"fmt"
	"math"
)

// ErrVerification is returned when a metric property does not hold.
var ErrVerification = errors.New("verification failed")

const tolerance = 1e-9

// metricNames are the six record columns at cutoff k.
func metricNames(k int) []string {
	names := []string{"hit_rate", "precision", "recall", "ndcg", "map", "coverage"}
	for i, n := range names {
		names[i] = fmt.Sprintf("%s@%d", n, k)
	}
	return names
}

// verifyBounds checks every metric of r is present and within [0, 1].
func verifyBounds(r Record) error {
	for _, name := range metricNames(r.K) {
		v, ok := r.Metrics[name]
		if !ok {
			return fmt.Errorf("%w: %s: missing %s", ErrVerification, r.Label, name)
		}
		if math.IsNaN(v) || v < -tolerance || v > 1+tolerance {
			return fmt.Errorf("%w: %s: %s = %v outside [0,1]", ErrVerification, r.Label, name, v)
		}
	}
	return nil
}

// verifyOracle checks a perfect ranking scores full hit rate, recall and ndcg.
func verifyOracle(r Record) error {
	if err := verifyBounds(r); err != nil {
		return err
	}
	for _, metric := range []string{"hit_rate", "recall", "ndcg"} {
		name := fmt.Sprintf("%s@%d", metric, r.K)
		if v := r.Metrics[name]; math.Abs(v-1) > tolerance {
			return fmt.Errorf("%w: oracle %s = %v, want 1", ErrVerification, name, v)
		}
	}
	return nil
}

// verifyOrdering checks the random model does not beat the oracle on recall.
func verifyOrdering(oracle, random Record) error {
	name := fmt.Sprintf("recall@%d", oracle.K)
	if random.Metrics[name] > oracle.Metrics[name]+tolerance {
		return fmt.Errorf("%w: random %s %v exceeds oracle %v", ErrVerification, name,
			random.Metrics[name], oracle.Metrics[name])
	}
	return nil
}
