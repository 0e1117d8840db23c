package split

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/pkg/logger"
)

// Default split parameters.
const (
	DefaultMinTrainRatings  = 5
	DefaultMinTestUserTrain = 15
	DefaultMinTestUserTest  = 10
	DefaultQuantile         = 0.85
)

// Options parameterizes one split.
type Options struct {
	TimeColumn string `json:"time_column" validate:"required"`
	UserColumn string `json:"user_column" validate:"required"`
	ItemColumn string `json:"item_column" validate:"required"`
	// Keep lists the output columns in order. Empty keeps every column.
	Keep []string `json:"keep" validate:"omitempty,dive,required"`

	// MinTrainRatings is the train count a user needs to stay in train.
	MinTrainRatings int `json:"min_train_ratings" validate:"gte=0"`
	// MinTestUserTrain is the warm train count a test user needs.
	MinTestUserTrain int `json:"min_test_user_train" validate:"gte=0"`
	// MinTestUserTest is the test count a test user needs.
	MinTestUserTest int `json:"min_test_user_test" validate:"gte=0"`
	// Quantile of the time column used as the split threshold.
	Quantile float64 `json:"quantile" validate:"gte=0,lte=1"`
}

// DefaultOptions returns options over the default column names.
func DefaultOptions() Options {
	return Options{
		TimeColumn:       model.ColumnTimestamp,
		UserColumn:       model.ColumnUser,
		ItemColumn:       model.ColumnItem,
		MinTrainRatings:  DefaultMinTrainRatings,
		MinTestUserTrain: DefaultMinTestUserTrain,
		MinTestUserTest:  DefaultMinTestUserTest,
		Quantile:         DefaultQuantile,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the numeric ranges and required names.
func (o Options) Validate() error {
	err := getValidator().Struct(o)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, "; "))
}

// InputSchema returns the standard columns with the key columns named as in
// o. The rating column keeps its default name.
func (o Options) InputSchema() (model.Schema, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return model.NewSchema(
		model.Column{Name: o.UserColumn, Field: model.FieldUser},
		model.Column{Name: o.ItemColumn, Field: model.FieldItem},
		model.Column{Name: model.ColumnRating, Field: model.FieldRating},
		model.Column{Name: o.TimeColumn, Field: model.FieldTimestamp},
	)
}

// Option applies a configuration option to the Splitter.
type Option func(*Splitter)

// WithLogger sets the logger that receives progress counts.
func WithLogger(l logger.Logger) Option {
	return func(s *Splitter) {
		if l != nil {
			s.logger = l
		}
	}
}
