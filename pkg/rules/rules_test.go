package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTables(t *testing.T) {
	r := Default()

	assert.True(t, r.IsKeywordStopword("где"))
	assert.False(t, r.IsKeywordStopword("python"))
	assert.True(t, r.IsGroundingStopword("API"))
	assert.True(t, r.IsGroundingStopword("Дмитрий"))
	assert.True(t, r.IsKnownLanguage("C#"))
	assert.True(t, r.IsLanguageCategory("Language"))
	assert.InDelta(t, 1.3, r.TypeWeight("profile"), 1e-9)
	assert.InDelta(t, 1.0, r.TypeWeight("unknown"), 1e-9)
	assert.Len(t, r.Artifacts(), 5)
	assert.Equal(t, "Достижения", r.GroupLabel("achievement"))
	assert.Equal(t, "Technology usage", r.GroupLabel("technology_usage"))
	assert.Contains(t, r.SpeculationMarkers(), "вероятно")
	assert.Contains(t, r.SpeculationMarkers(), "maybe")
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	doc := `
[keywords]
stopwords = ["foo"]

[answer]
artifact_patterns = ['\[x\]']
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	assert.True(t, r.IsKeywordStopword("FOO"))
	assert.False(t, r.IsKeywordStopword("где"))
	assert.Len(t, r.Artifacts(), 1)
}

func TestParseRejectsBadPattern(t *testing.T) {
	_, err := Parse([]byte("[answer]\nartifact_patterns = ['(']\n"))
	require.Error(t, err)
}

func TestLoadEmptyPathIsDefault(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)
	assert.Same(t, Default(), r)
}

func TestAnswerTablesCompiledOnLoad(t *testing.T) {
	r, err := Parse([]byte(`
[answer]
forbidden_phrases = ["Based on (the) data", " "]
not_found_markers = ["Ничего НЕТ"]
`))
	require.NoError(t, err)
	require.Len(t, r.ForbiddenPhrases(), 1)
	assert.Equal(t, "ok", r.ForbiddenPhrases()[0].ReplaceAllString("BASED ON (THE) DATAok", ""))
	assert.True(t, r.IsNotFoundAnswer("тут ничего нет"))
	assert.False(t, r.IsNotFoundAnswer("not found"))

	assert.True(t, Default().IsNotFoundAnswer("Not found."))
}
