package replay

import "github.com/oklog/ulid/v2"

// RunID identifies one replay run across its result file, manifest,
// metrics and uploaded artifacts.
type RunID string

// NewRunID returns a fresh, lexically time-ordered run id.
func NewRunID() RunID {
	return RunID(ulid.Make().String())
}
