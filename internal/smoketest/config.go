package smoketest

import (
	"errors"
	"time"

	"github.com/okian/receval/pkg/logger"
)

// Config holds configuration for a smoke run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Users         int           // Number of synthetic users
	Items         int           // Size of the synthetic catalogue
	EventsPerUser int           // Interactions generated per user
	Seed          uint64        // Seed of the log generator
	Timeout       time.Duration // HTTP request timeout
	Save          bool          // Persist both runs as experiments
	OutputFile    string        // Optional CSV copy of the generated log
	Split         SplitOptions  // Options sent with the split request
	Logger        logger.Logger // Defaults to the global logger
}

// SplitOptions mirrors the JSON split options of the service.
type SplitOptions struct {
	MinTrainRatings  int     `json:"min_train_ratings"`
	MinTestUserTrain int     `json:"min_test_user_train"`
	MinTestUserTest  int     `json:"min_test_user_test"`
	Quantile         float64 `json:"quantile"`
}

// Default run parameters. The split thresholds are lower than the service
// defaults so a small synthetic log keeps most users.
const (
	DefaultUsers         = 200
	DefaultItems         = 500
	DefaultEventsPerUser = 30
	DefaultSeed          = 42
	DefaultTimeout       = 30 * time.Second
)

// DefaultSplitOptions returns thresholds suited to the synthetic log.
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{MinTrainRatings: 3, MinTestUserTrain: 3, MinTestUserTest: 2, Quantile: 0.7}
}

// ErrConfig is returned for unusable run parameters.
var ErrConfig = errors.New("invalid smoke configuration")

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrConfig, errors.New("base url is required"))
	case c.Users < 1 || c.Items < 2 || c.EventsPerUser < 2:
		return errors.Join(ErrConfig, errors.New("users, items and events per user must be positive"))
	}
	return nil
}

// Row is one interaction as exchanged with the service.
type Row struct {
	UserID    int64   `json:"user_id"`
	ItemID    int64   `json:"item_id"`
	Rating    float64 `json:"rating"`
	Timestamp int64   `json:"timestamp"`
}

// Record is an evaluation record returned by the service.
type Record struct {
	Label        string             `json:"model_name"`
	K            int                `json:"k"`
	Metrics      map[string]float64 `json:"metrics"`
	ExperimentID string             `json:"experiment_id"`
}

// Report summarises a smoke run.
type Report struct {
	Rows      int
	TrainRows int
	TestRows  int
	TestUsers int
	K         int
	Oracle    Record
	Random    Record
	Duration  time.Duration
}
