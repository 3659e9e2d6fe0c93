package rag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocID(t *testing.T) {
	cases := []struct {
		name string
		doc  Document
		want string
	}{
		{"explicit id", Document{ID: "x", Metadata: Metadata{Type: "project", RefID: "1"}}, "x"},
		{"doc_id", Document{Metadata: Metadata{DocID: "d1", Type: "project", RefID: "1"}}, "d1"},
		{"type and ref", Document{Metadata: Metadata{Type: "project", RefID: "1"}}, "project:1"},
		{"no double prefix", Document{Metadata: Metadata{Type: "project", RefID: "project:1"}}, "project:1"},
		{"bare ref", Document{Metadata: Metadata{RefID: "r"}}, "r"},
		{"nothing", Document{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DocID(tc.doc))
		})
	}
}

func TestKeyOfUsesParent(t *testing.T) {
	a := Document{ID: "project:1:c1", Metadata: Metadata{ParentID: "project:1", Part: 1}}
	b := Document{ID: "project:1:c2", Metadata: Metadata{ParentID: "project:1", Part: 2}}
	c := Document{ID: "project:1"}
	assert.NotEqual(t, KeyOf(a), KeyOf(b))
	assert.Equal(t, DedupKey{Base: "project:1"}, KeyOf(c))
}

func TestMetadataJSONKeepsExtra(t *testing.T) {
	raw := `{"type":"technology","ref_id":7,"name":"RAG","project_names":["AI-Portfolio"],"year":2024}`
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, "technology", m.Type)
	assert.Equal(t, "7", m.RefID)
	assert.Equal(t, []string{"AI-Portfolio"}, m.ProjectNames)
	assert.Equal(t, float64(2024), m.Extra["year"])

	flat := m.Map()
	assert.Equal(t, "AI-Portfolio", flat["project_names_csv"])
	assert.Equal(t, float64(2024), flat["year"])
}

func TestStringsFallsBackToCSV(t *testing.T) {
	m := Metadata{Extra: map[string]any{"technology_names_csv": "Go, Python"}}
	assert.Equal(t, []string{"Go", "Python"}, m.Strings("technology_names"))
	assert.Equal(t, []string{"x"}, Metadata{Slug: "x"}.Strings("slug"))
}

func TestKeywords(t *testing.T) {
	got := Keywords("Где использовал C# и .NET в проекте?", nil)
	assert.Equal(t, []string{"использовал", "c#", ".net", "проекте"}, got)
}

func TestSentences(t *testing.T) {
	got := Sentences("Первое. Второе! Третье? Хвост")
	assert.Equal(t, []string{"Первое.", "Второе!", "Третье?", "Хвост"}, got)
}
