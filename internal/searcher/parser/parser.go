// Package parser turns query strings and JSON bodies into payload requests.
package parser

import (
	"encoding/json"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/payload"
	apperrors "github.com/Adithya-Monish-Kumar-K/study-search/pkg/errors"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Body is the JSON form of a study query.
type Body struct {
	Organism       []string `json:"organism"`
	ProjectType    []string `json:"project_type"`
	Keywords       []string `json:"keywords"`
	Q              string   `json:"q"`
	QMode          string   `json:"q_mode"`
	QMinMatch      *int     `json:"q_min_match"`
	Page           int      `json:"page"`
	PageSize       int      `json:"page_size"`
	Mode           string   `json:"mode"`
	EmergingTopics *int     `json:"emerging_topics"`
	Compact        bool     `json:"compact"`
}

// ParseValues reads a request from URL query values. List parameters are
// repeated; a value is never split, since facet labels may contain commas.
func ParseValues(v url.Values) (payload.Request, error) {
	b := Body{
		Organism:    v["organism"],
		ProjectType: v["project_type"],
		Keywords:    v["keywords"],
		Q:           v.Get("q"),
		QMode:       v.Get("q_mode"),
		Mode:        v.Get("mode"),
	}
	var err error
	if s := v.Get("q_min_match"); s != "" {
		n, perr := strconv.Atoi(s)
		if perr != nil {
			return payload.Request{}, apperrors.InvalidRequestf("q_min_match must be an integer, got %q", s)
		}
		b.QMinMatch = &n
	}
	if b.Page, err = optionalInt(v, "page"); err != nil {
		return payload.Request{}, err
	}
	if b.PageSize, err = optionalInt(v, "page_size"); err != nil {
		return payload.Request{}, err
	}
	if s := v.Get("emerging_topics"); s != "" {
		n, perr := strconv.Atoi(s)
		if perr != nil {
			return payload.Request{}, apperrors.InvalidRequestf("emerging_topics must be an integer, got %q", s)
		}
		b.EmergingTopics = &n
	}
	if s := v.Get("compact"); s != "" {
		if b.Compact, err = strconv.ParseBool(s); err != nil {
			return payload.Request{}, apperrors.InvalidRequestf("compact must be a boolean, got %q", s)
		}
	}
	return b.Request()
}

// ParseJSON reads a request from a JSON body. An empty body is an empty
// request.
func ParseJSON(r io.Reader) (payload.Request, error) {
	var b Body
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil && err != io.EOF {
		return payload.Request{}, apperrors.InvalidRequestf("invalid JSON body: %v", err)
	}
	return b.Request()
}

// Request validates b and converts it.
func (b Body) Request() (payload.Request, error) {
	mode, err := executor.ParseMode(b.QMode)
	if err != nil {
		return payload.Request{}, err
	}
	req := payload.Request{
		Filter: executor.Request{
			Organisms:    clean(b.Organism),
			ProjectTypes: clean(b.ProjectType),
			Keywords:     clean(b.Keywords),
			Query:        strings.TrimSpace(b.Q),
			Mode:         mode,
		},
		Page:           b.Page,
		PageSize:       b.PageSize,
		RankMode:       strings.TrimSpace(b.Mode),
		EmergingTopics: b.EmergingTopics,
		Compact:        b.Compact,
	}
	if b.QMinMatch != nil {
		if *b.QMinMatch < 0 {
			return payload.Request{}, apperrors.InvalidRequestf("q_min_match must not be negative")
		}
		req.Filter.MinMatch = *b.QMinMatch
	}
	if b.EmergingTopics != nil && *b.EmergingTopics < 0 {
		return payload.Request{}, apperrors.InvalidRequestf("emerging_topics must not be negative")
	}
	return req, nil
}

func optionalInt(v url.Values, key string) (int, error) {
	s := v.Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperrors.InvalidRequestf("%s must be an integer, got %q", key, s)
	}
	return n, nil
}

func clean(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
