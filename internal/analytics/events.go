package analytics

import "time"

type EventType string

const (
	EventCacheHit   EventType = "cache_hit"
	EventCacheMiss  EventType = "cache_miss"
	EventZeroResult EventType = "zero_result"
	EventSnapshot   EventType = "snapshot_published"
)

// SearchEvent describes one answered study query.
type SearchEvent struct {
	Type             EventType `json:"type"`
	Query            string    `json:"query"`
	Organisms        []string  `json:"organisms,omitempty"`
	ProjectTypes     []string  `json:"project_types,omitempty"`
	Keywords         []string  `json:"keywords,omitempty"`
	Mode             string    `json:"q_mode"`
	TotalHits        int       `json:"total_hits"`
	Returned         int       `json:"returned"`
	LatencyMs        int64     `json:"latency_ms"`
	CacheHit         bool      `json:"cache_hit"`
	Fallbacks        []string  `json:"fallbacks,omitempty"`
	SpellSubstituted bool      `json:"spell_substituted"`
	SnapshotVersion  string    `json:"snapshot_version"`
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id"`
}

// SnapshotEvent is emitted each time a corpus snapshot is published.
type SnapshotEvent struct {
	Type      EventType `json:"type"`
	Version   string    `json:"version"`
	Source    string    `json:"source"`
	Records   int       `json:"records"`
	Tokens    int       `json:"tokens"`
	Skipped   int       `json:"skipped"`
	Timestamp time.Time `json:"timestamp"`
}

// envelope lets one topic carry both event kinds.
type envelope struct {
	Type EventType `json:"type"`
}
