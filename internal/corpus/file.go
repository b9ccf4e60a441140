package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/study-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/resilience"
)

// Source produces the full record list for one snapshot build.
type Source interface {
	Load(ctx context.Context) ([]Record, error)
	Name() string
}

// FileSource reads a JSON array of records from disk.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Name() string { return "file:" + f.Path }

func (f *FileSource) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus file %s: %w", f.Path, err)
	}
	records, err := Decode(data)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decoding corpus file %s: %w", f.Path, err))
	}
	return records, nil
}

// fileRecord accepts the looser shapes upstream exports produce: numeric
// IDs and dates as strings or epoch seconds.
type fileRecord struct {
	ID          json.RawMessage `json:"id"`
	Organism    string          `json:"organism"`
	ProjectType string          `json:"project_type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	ReleaseDate json.RawMessage `json:"release_date"`
	DOI         string          `json:"doi"`
	URL         string          `json:"url"`
	Extra       map[string]any  `json:"extra"`
}

// Decode parses a JSON array of records. An unparseable release date is
// dropped rather than failing the record.
func Decode(data []byte) ([]Record, error) {
	var raw []fileRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	out := make([]Record, 0, len(raw))
	for _, fr := range raw {
		rec := Record{
			ID:          rawString(fr.ID),
			Organism:    fr.Organism,
			ProjectType: fr.ProjectType,
			Title:       fr.Title,
			Description: fr.Description,
			DOI:         fr.DOI,
			URL:         fr.URL,
			Extra:       fr.Extra,
		}
		if t, ok := ParseDate(rawString(fr.ReleaseDate)); ok {
			rec.ReleaseDate = &t
		}
		out = append(out, rec)
	}
	return out, nil
}

func rawString(m json.RawMessage) string {
	s := strings.TrimSpace(string(m))
	if s == "" || s == "null" {
		return ""
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	return s
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// ParseDate accepts the common date layouts and integer epoch seconds.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}
