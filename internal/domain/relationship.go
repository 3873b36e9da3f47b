package domain

import "time"

// EdgeType classifies how two markets are logically related.
type EdgeType string

const (
	// EdgeMutuallyExclusive links markets whose outcomes cannot all resolve
	// YES (e.g. "Team A wins" vs "Team B wins"). Edges of this type carry a
	// GroupID covering the whole n-ary group.
	EdgeMutuallyExclusive EdgeType = "mutually_exclusive"
	// EdgeConditional links a child market that requires its parent (e.g.
	// "X wins primary" -> "X wins election").
	EdgeConditional EdgeType = "conditional"
	// EdgeTimeSequence links the same outcome at increasing deadlines
	// (parent = earlier, child = later).
	EdgeTimeSequence EdgeType = "time_sequence"
	// EdgeSubset links a specific market to the general market containing it
	// (parent = general, child = specific).
	EdgeSubset EdgeType = "subset"
)

// RelationshipEdge is a typed edge between two markets, created by an
// external tagging process and read-only within an analysis cycle.
type RelationshipEdge struct {
	ID             int64
	Type           EdgeType
	ParentMarketID string
	ChildMarketID  string
	GroupID        string // set for mutually exclusive groups
	Confidence     float64
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
