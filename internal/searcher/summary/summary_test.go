package summary

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
)

func TestTitle(t *testing.T) {
	tests := []struct {
		name     string
		org      []string
		proj     []string
		expected string
	}{
		{"default", nil, nil, "Studies"},
		{"organisms only", []string{"Rodent", "Plant", "Microbe"}, nil, "Rodent,Plant"},
		{"projects only", nil, []string{"Spaceflight"}, "Studies - Spaceflight"},
		{"both", []string{"Rodent"}, []string{"Spaceflight", "Ground", "Station"}, "Rodent - Spaceflight,Ground"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Title(tc.org, tc.proj))
		})
	}
}

func TestSentencesFilterByLength(t *testing.T) {
	long := strings.Repeat("word ", 90) + "end."
	recs := []corpus.Record{{
		ID: "a",
		Description: "Too short. " +
			"Mice were flown aboard the station for thirty days! " +
			long + " " +
			"Was bone density reduced in the weight bearing limbs?",
	}}
	got := Sentences(recs)
	assert.Equal(t, []string{
		"Mice were flown aboard the station for thirty days!",
		"Was bone density reduced in the weight bearing limbs?",
	}, got)
}

func TestDescribeStopsNearTargetWords(t *testing.T) {
	sentence := "Spaceflight samples were processed with the standard protocol and stored cold." // 11 words
	var recs []corpus.Record
	for i := 0; i < 30; i++ {
		recs = append(recs, corpus.Record{ID: string(rune('a' + i)), Description: sentence})
	}
	desc := Describe(recs)
	words := len(strings.Fields(desc))
	assert.LessOrEqual(t, words, 160)
	assert.Greater(t, words, 140)
	assert.True(t, strings.HasSuffix(desc, "cold."))
}

func TestDescribeEmpty(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
}

func TestHeuristicSummarize(t *testing.T) {
	gen, err := Heuristic{}.Summarize(context.Background(), []corpus.Record{
		{ID: "a", Description: "Rodents were housed in habitat modules during the mission."},
	}, []string{"Rodent"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Rodent", gen.Title)
	assert.Equal(t, "Rodents were housed in habitat modules during the mission.", gen.Description)
	assert.Equal(t, ModeHeuristic, gen.Meta.Mode)
	assert.False(t, gen.Meta.LLMUsed)
}
