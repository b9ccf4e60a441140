package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/study-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/resilience"
)

func TestNewSkipsBadRecords(t *testing.T) {
	c := New([]Record{
		{ID: "GLDS-1", Organism: "Mus musculus", ProjectType: "Spaceflight", Title: "Bone loss"},
		{ID: "  ", Title: "no id"},
		{ID: "GLDS-1", Title: "duplicate"},
		{ID: "GLDS-2", Title: string([]byte{0xff, 0xfe})},
		{ID: "GLDS-3/", Organism: " Rattus norvegicus "},
	})

	require.Equal(t, 2, c.Len())
	assert.Equal(t, 3, c.Skipped())

	rec, ok := c.Get("GLDS-3")
	require.True(t, ok, "trailing slash is trimmed from ids")
	assert.Equal(t, "Rattus norvegicus", rec.Organism)
	assert.Equal(t, "Bone loss", c.Records()[0].Title)
	assert.Equal(t, 1, c.Position("GLDS-3"))
	assert.Equal(t, -1, c.Position("missing"))
}

func TestSelectKeepsCorpusOrder(t *testing.T) {
	c := New([]Record{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	got := c.Select(map[string]struct{}{"c": {}, "a": {}})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Empty(t, c.Select(nil))
}

func TestFacets(t *testing.T) {
	c := New([]Record{
		{ID: "1", Organism: "Rodent", ProjectType: "Flight"},
		{ID: "2", Organism: "Plant", ProjectType: "Flight"},
		{ID: "3", Organism: "Rodent", ProjectType: ""},
	})
	orgs, projects := c.Facets()
	assert.Equal(t, []FacetCount{{Value: "Rodent", Count: 2}, {Value: "Plant", Count: 1}}, orgs)
	assert.Equal(t, []FacetCount{{Value: "Flight", Count: 2}}, projects)
}

func TestDecode(t *testing.T) {
	data := []byte(`[
		{"id": "OSD-1", "organism": "Rodent", "project_type": "Flight", "title": "T", "release_date": "2021-03-04"},
		{"id": 42, "release_date": 1609459200},
		{"id": "OSD-3", "release_date": "not a date"}
	]`)
	records, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.NotNil(t, records[0].ReleaseDate)
	assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), *records[0].ReleaseDate)
	assert.Equal(t, "42", records[1].ID)
	require.NotNil(t, records[1].ReleaseDate)
	assert.Equal(t, 2021, records[1].ReleaseDate.Year())
	assert.Nil(t, records[2].ReleaseDate)
}

func TestDecodeRejectsNonArray(t *testing.T) {
	_, err := Decode([]byte(`{"id": "x"}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestFileSourceMalformedIsNotRetried(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studies.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "a",`), 0o644))
	src := NewFileSource(path)

	attempts := 0
	err := resilience.Retry(context.Background(), "load", resilience.RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond}, func() error {
		attempts++
		_, err := src.Load(context.Background())
		return err
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 1, attempts)
}

func TestFileSourceLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studies.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "a", "title": "Plant roots"}]`), 0o644))

	src := NewFileSource(path)
	records, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Plant roots", records[0].Title)
	assert.Equal(t, "file:"+path, src.Name())

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.json")).Load(context.Background())
	assert.Error(t, err)
}

func TestWatcherRelevant(t *testing.T) {
	w := NewWatcher("/data/studies.json", func(context.Context) {})
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write", fsnotify.Event{Name: "/data/studies.json", Op: fsnotify.Write}, true},
		{"create", fsnotify.Event{Name: "/data/studies.json", Op: fsnotify.Create}, true},
		{"rename", fsnotify.Event{Name: "/data/studies.json", Op: fsnotify.Rename}, true},
		{"chmod", fsnotify.Event{Name: "/data/studies.json", Op: fsnotify.Chmod}, false},
		{"other file", fsnotify.Event{Name: "/data/other.json", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.relevant(tt.event))
		})
	}
}

func TestWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "studies.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))

	fired := make(chan struct{}, 1)
	w := NewWatcher(path, func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "a"}]`), 0o644))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not fire after write")
	}
	cancel()
	assert.NoError(t, <-done)
}
