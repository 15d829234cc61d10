package model

// Boundary markers record why slice inclusion stopped.
const (
	BoundaryWidthLimited    = "width-limited"
	BoundaryTimeLimited     = "time-limited"
	BoundarySalienceLimited = "salience-limited"
	BoundaryExhausted       = "exhausted"
)

// Slice is the output of slice construction: an ordered sequence of
// record ids around an anchor, plus the policy identity that produced
// it. Slices are transient; persistence is the caller's concern.
type Slice struct {
	AnchorID      string   `json:"anchor_id"`
	PolicyID      string   `json:"policy_id"`
	PolicyVersion int      `json:"policy_version"`
	RecordIDs     []string `json:"record_ids"`
	Boundary      []string `json:"boundary"`
	Digest        string   `json:"digest"`
}
