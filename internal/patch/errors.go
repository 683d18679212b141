package patch

import "errors"

var (
	// ErrPatchCannotHelp signals that the controller diverged at one of the
	// required goals. Only full resynthesis can repair it; Run returns a nil
	// graph with this error.
	ErrPatchCannotHelp = errors.New("divergence at a required goal, local patching cannot help")

	// ErrNeighborhoodExhausted means radius growth reached the whole grid, or
	// the region took in every controller node, without a realizable patch.
	ErrNeighborhoodExhausted = errors.New("neighborhood exhausted")

	// ErrRadiusCapReached means the configured maximum radius was passed
	// before a realizable patch was found.
	ErrRadiusCapReached = errors.New("patch radius cap reached")

	// ErrAmbiguousStitch means an entry edge matched more than one imported
	// successor under the strict stitch policy.
	ErrAmbiguousStitch = errors.New("ambiguous entry stitch")

	// ErrMergeInconsistent means a local controller has no node matching a
	// seed or any of its exits.
	ErrMergeInconsistent = errors.New("local controller inconsistent with region")
)
