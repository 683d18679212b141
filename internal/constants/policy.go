package constants

// ExitPolicy selects which region exits become local goals of a patch seed.
type ExitPolicy string

const (
	// ExitAllReachable uses every exit reachable from the seed inside the region.
	ExitAllReachable ExitPolicy = "all-reachable"

	// ExitFirstReachable uses only the first reachable exit in handle order.
	ExitFirstReachable ExitPolicy = "first-reachable"
)

// Valid returns true if the policy is a recognized value.
func (p ExitPolicy) Valid() bool {
	switch p {
	case ExitAllReachable, ExitFirstReachable:
		return true
	}
	return false
}

// String returns the string representation of the policy.
func (p ExitPolicy) String() string {
	return string(p)
}

// StitchPolicy decides what happens when an entry edge matches more than one
// successor of the imported node during merge.
type StitchPolicy string

const (
	// StitchFirst redirects to the first consistent successor in handle order.
	StitchFirst StitchPolicy = "first"

	// StitchStrict fails the merge on any ambiguous entry edge.
	StitchStrict StitchPolicy = "strict"
)

// Valid returns true if the policy is a recognized value.
func (p StitchPolicy) Valid() bool {
	switch p {
	case StitchFirst, StitchStrict:
		return true
	}
	return false
}

// String returns the string representation of the policy.
func (p StitchPolicy) String() string {
	return string(p)
}
