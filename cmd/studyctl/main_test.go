package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/payload"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/spell"
)

const corpusJSON = `[
  {"id": "OSD-1", "organism": "Rodent", "project_type": "Spaceflight", "title": "Bone density loss in mice after spaceflight", "release_date": "2019-05-01"},
  {"id": 2, "organism": "Rodent", "project_type": "Ground", "title": "Hindlimb unloading and bone remodeling"},
  {"id": "OSD-3", "organism": "Plant", "project_type": "Spaceflight", "title": "Arabidopsis root growth under microgravity"}
]`

func writeCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studies.json")
	require.NoError(t, os.WriteFile(path, []byte(corpusJSON), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"studyctl"}, args...))
	return out.String(), err
}

func TestQueryCommand(t *testing.T) {
	path := writeCorpus(t)

	out, err := run(t, "query", "--corpus", path, "--organism", "Rodent", "--q", "bone")
	require.NoError(t, err)

	var p payload.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, 2, p.Counts.TotalStudies)
	assert.Nil(t, p.Data)
	assert.Equal(t, []string{"Rodent"}, p.Filters.Organism)
}

func TestQueryCommandKeepsCommaInLabel(t *testing.T) {
	out, err := run(t, "query", "--corpus", writeCorpus(t), "--organism", "Rodent, lab strain")
	require.NoError(t, err)

	var p payload.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, []string{"Rodent, lab strain"}, p.Filters.Organism)
	assert.Zero(t, p.Counts.TotalStudies)
}

func TestQueryCommandFull(t *testing.T) {
	out, err := run(t, "query", "--corpus", writeCorpus(t), "--full")
	require.NoError(t, err)

	var p payload.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	require.NotNil(t, p.Data)
	assert.Equal(t, 3, p.Data.TotalFull)
}

func TestQueryCommandRejectsMode(t *testing.T) {
	_, err := run(t, "query", "--corpus", writeCorpus(t), "--q", "bone", "--mode", "xor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown query mode")
}

func TestCorpusIsRequired(t *testing.T) {
	_, err := run(t, "facets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corpus")
}

func TestFacetsCommand(t *testing.T) {
	out, err := run(t, "facets", "--corpus", writeCorpus(t))
	require.NoError(t, err)

	var body struct {
		Organisms []corpus.FacetCount `json:"organisms"`
		Records   int                 `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, 3, body.Records)
	assert.Equal(t, corpus.FacetCount{Value: "Rodent", Count: 2}, body.Organisms[0])
}

func TestSpellCheckCommand(t *testing.T) {
	path := writeCorpus(t)

	_, err := run(t, "spell-check", "--corpus", path)
	require.Error(t, err)

	out, err := run(t, "spell-check", "--corpus", path, "bone")
	require.NoError(t, err)
	var report spell.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "bone", report.Original)
}

func TestStudyCommand(t *testing.T) {
	path := writeCorpus(t)

	out, err := run(t, "study", "--corpus", path, "2")
	require.NoError(t, err)
	var rec corpus.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "Hindlimb unloading and bone remodeling", rec.Title)

	_, err = run(t, "study", "--corpus", path, "OSD-9")
	require.Error(t, err)
}

func TestLoadtestCommand(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/api/v1/studies", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("compact"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"debug":{"cache_hit":%t}}`, n%2 == 0)
	}))
	defer srv.Close()

	out, err := run(t, "loadtest", "--url", srv.URL, "--concurrency", "2", "--duration", "150ms", "--query", "q=bone")
	require.NoError(t, err)
	assert.Positive(t, calls.Load())
	assert.Contains(t, out, "=== Results ===")
	assert.Contains(t, out, "200: ")
}

func TestDurationPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), durationPercentile(sorted, 50))
	assert.Equal(t, time.Duration(10), durationPercentile(sorted, 99))
	assert.Zero(t, durationPercentile(nil, 50))
}
