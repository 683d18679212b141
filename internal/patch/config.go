package patch

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/nvandessel/btsynth/internal/constants"
)

// Config controls a patch run.
type Config struct {
	// SysPrefix is the locative prefix of the controlled agent.
	SysPrefix string `validate:"required"`
	// EnvPrefix is the base prefix of environment agents.
	EnvPrefix string `validate:"required"`
	// NumObstacles is the number of environment agents. When positive the
	// simulation samples environment moves at random.
	NumObstacles int `validate:"gte=0"`
	// ObstacleRadius is the movement radius given to each agent in local
	// requests.
	ObstacleRadius int `validate:"gte=0"`

	// StepBudget bounds transitions across all rounds.
	StepBudget int `validate:"gte=0"`
	// StartRadius is the first neighborhood radius tried in a round.
	StartRadius int `validate:"gte=1"`
	// RadiusStep is added to the radius after every failed attempt.
	RadiusStep int `validate:"gte=1"`
	// MaxRadius caps radius growth. Zero means grow until the grid is
	// covered.
	MaxRadius int `validate:"gte=0"`

	ExitPolicy   constants.ExitPolicy
	StitchPolicy constants.StitchPolicy

	// Seed drives the randomized simulation.
	Seed uint64
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		SysPrefix:      constants.DefaultSysPrefix,
		EnvPrefix:      constants.DefaultEnvPrefix,
		ObstacleRadius: constants.DefaultObstacleRadius,
		StepBudget:     constants.DefaultStepBudget,
		StartRadius:    constants.DefaultStartRadius,
		RadiusStep:     constants.DefaultRadiusStep,
		ExitPolicy:     constants.ExitAllReachable,
		StitchPolicy:   constants.StitchFirst,
		Seed:           constants.DefaultRandomSeed,
	}
}

var validate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid patch config: %w", err)
	}
	if !c.ExitPolicy.Valid() {
		return fmt.Errorf("invalid exit policy %q", c.ExitPolicy)
	}
	if !c.StitchPolicy.Valid() {
		return fmt.Errorf("invalid stitch policy %q", c.StitchPolicy)
	}
	if c.MaxRadius != 0 && c.MaxRadius < c.StartRadius {
		return fmt.Errorf("max radius %d below start radius %d", c.MaxRadius, c.StartRadius)
	}
	return nil
}
