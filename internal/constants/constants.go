// Package constants provides named constants used throughout the btsynth codebase.
// This centralizes defaults and magic numbers shared by several packages.
package constants

// Proposition naming constants
const (
	// DefaultSysPrefix is the locative prefix of the controlled agent.
	// A system position is encoded as Y_ROW_COL.
	DefaultSysPrefix = "Y"

	// DefaultEnvPrefix is the base locative prefix of environment agents.
	// Obstacle i is encoded as X_i_ROW_COL, or X_i_n_n when outside its region.
	DefaultEnvPrefix = "X"

	// NowhereFragment is the row and column fragment of the nowhere sentinel.
	NowhereFragment = "n"
)

// Simulation constants
const (
	// DefaultStepBudget is the transition watchdog for simulation runs and the
	// total step budget shared by all rounds of a patch session.
	DefaultStepBudget = 100

	// DefaultRandomSeed seeds randomized stepping when none is configured.
	DefaultRandomSeed = 1
)

// Neighborhood growth constants
const (
	// DefaultStartRadius is the first patch neighborhood radius tried.
	DefaultStartRadius = 1

	// DefaultRadiusStep is the radius increment between attempts.
	DefaultRadiusStep = 1

	// DefaultObstacleRadius is the movement radius of an environment agent
	// around its center.
	DefaultObstacleRadius = 1
)

// Oracle constants
const (
	// DefaultOracleTimeoutSeconds bounds a single external synthesis call.
	DefaultOracleTimeoutSeconds = 300
)
