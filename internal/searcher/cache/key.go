package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// KeyParams is everything that can change a payload. Version ties the key
// to one published snapshot.
type KeyParams struct {
	Version        string
	Organisms      []string
	ProjectTypes   []string
	Keywords       []string
	Query          string
	Mode           string
	MinMatch       int
	Page           int
	PageSize       int
	RankMode       string
	EmergingTopics int
	Compact        bool
}

// Key returns the canonical cache key for p. List order does not matter.
func Key(p KeyParams) string {
	parts := []string{
		"v=" + p.Version,
		"organism=" + joinSorted(p.Organisms),
		"project_type=" + joinSorted(p.ProjectTypes),
		"keywords=" + joinSorted(p.Keywords),
		"q=" + p.Query,
		"q_mode=" + p.Mode,
		"q_min_match=" + strconv.Itoa(p.MinMatch),
		"page=" + strconv.Itoa(p.Page),
		"page_size=" + strconv.Itoa(p.PageSize),
		"mode=" + p.RankMode,
		"emerging=" + strconv.Itoa(p.EmergingTopics),
		"compact=" + strconv.FormatBool(p.Compact),
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func joinSorted(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	quoted := make([]string, len(sorted))
	for i, v := range sorted {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, ",")
}
