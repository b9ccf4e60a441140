package payload

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/spell"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/summary"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/topics"
)

// Request is a full study query: the filter plus presentation options.
// Zero values mean the configured defaults. EmergingTopics is nil for the
// default so that an explicit 0 turns topic extraction off.
type Request struct {
	Filter         executor.Request
	Page           int
	PageSize       int
	RankMode       string
	EmergingTopics *int
	Compact        bool
}

type Filters struct {
	Organism    []string `json:"organism"`
	ProjectType []string `json:"project_type"`
	Keywords    []string `json:"keywords"`
	Q           string   `json:"q,omitempty"`
	QMode       string   `json:"q_mode"`
	QMinMatch   *int     `json:"q_min_match"`
	QueryParams string   `json:"query_params"`
}

type Counts struct {
	TotalStudies int `json:"total_studies"`
	Important    int `json:"important"`
	LessRelevant int `json:"less_relevant"`
	PageItems    int `json:"page_items"`
	Page         int `json:"page"`
	PageSize     int `json:"page_size"`
	TotalPages   int `json:"total_pages"`
}

type Article struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	RankScore   float64 `json:"rank_score"`
	Organism    string  `json:"organism"`
	ProjectType string  `json:"project_type"`
	ReleaseDate string  `json:"release_date,omitempty"`
	DOI         string  `json:"doi,omitempty"`
	URL         string  `json:"url,omitempty"`
}

type Articles struct {
	Important    []Article `json:"important"`
	LessRelevant []Article `json:"less_relevant"`
	PageItems    []Article `json:"page_items"`
}

type Topics struct {
	Emerging       []topics.Topic      `json:"emerging"`
	FrequentSubset []topics.Token      `json:"frequent_subset"`
	ByTopicIndex   map[string][]string `json:"by_topic_index"`
}

type Preview struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type Debug struct {
	RankingPreview    []Preview          `json:"ranking_preview"`
	LLMMeta           summary.Meta       `json:"llm_meta"`
	FilterStats       executor.Stats     `json:"filter_stats"`
	StageMillis       map[string]float64 `json:"stage_ms"`
	GenerationTimeSec float64            `json:"generation_time_sec"`
	CacheHit          bool               `json:"cache_hit"`
	SnapshotVersion   string             `json:"snapshot_version"`
	StudiesFullCount  int                `json:"studies_full_count"`
}

// FullRecord is a ranked record with every attribute, for export.
type FullRecord struct {
	corpus.Record
	RankScore float64 `json:"rank_score"`
}

type Data struct {
	StudiesFull       []FullRecord `json:"studies_full"`
	TotalFull         int          `json:"total_full"`
	SuggestedKeywords []string     `json:"suggested_keywords"`
}

// Payload is the complete response for one Request. Data is nil in compact
// mode.
type Payload struct {
	Filters    Filters           `json:"filters"`
	Generated  summary.Generated `json:"generated"`
	SpellCheck *spell.Report     `json:"spell_check"`
	Counts     Counts            `json:"counts"`
	Articles   Articles          `json:"articles"`
	Topics     Topics            `json:"topics"`
	Debug      Debug             `json:"debug"`
	Data       *Data             `json:"data"`
	ExportedAt time.Time         `json:"exported_at"`
}

func article(s ranker.Scored) Article {
	a := Article{
		ID:          s.Record.ID,
		Title:       s.Record.Title,
		RankScore:   s.Score,
		Organism:    s.Record.Organism,
		ProjectType: s.Record.ProjectType,
		DOI:         s.Record.DOI,
		URL:         s.Record.URL,
	}
	if s.Record.ReleaseDate != nil {
		a.ReleaseDate = s.Record.ReleaseDate.Format(time.DateOnly)
	}
	return a
}

func articles(scored []ranker.Scored) []Article {
	out := make([]Article, len(scored))
	for i, s := range scored {
		out[i] = article(s)
	}
	return out
}
