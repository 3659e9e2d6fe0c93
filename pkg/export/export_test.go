package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "profile": {"id": 1, "full_name": "Дмитрий Иванов", "title": "Backend Developer"},
  "experiences": [{
    "id": 3, "role": "Backend Developer", "company_name": "ALOR", "company_slug": "alor",
    "start_date": "2021-03-01", "end_date": null, "is_current": true, "unknown_field": 5,
    "projects": [{"id": 9, "experience_id": 3, "name": "ALOR Broker", "slug": "alor-broker"}]
  }],
  "projects": [{"id": "p1", "name": "AI-Portfolio", "slug": "ai-portfolio", "technologies": ["RAG", "Python"]}],
  "technologies": [{"id": 4, "name": "RAG", "slug": "rag", "category": "concept"}]
}`

func TestParseTolerant(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.NotNil(t, p.Profile)
	assert.Equal(t, ID("1"), p.Profile.ID)
	require.Len(t, p.Experiences, 1)
	exp := p.Experiences[0]
	assert.Equal(t, "2021-03-01", exp.StartDate.String())
	assert.Equal(t, "", exp.EndDate.String())
	assert.True(t, exp.IsCurrent)
	assert.Equal(t, ID("9"), exp.Projects[0].ID)
	assert.Equal(t, ID("p1"), p.Projects[0].ID)
	assert.Equal(t, 1, p.Counts()["experience_projects"])
}

func TestHashStable(t *testing.T) {
	a, err := Parse([]byte(sample))
	require.NoError(t, err)
	b, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())

	b.Technologies[0].Category = "tool"
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestParseRejectsBadDate(t *testing.T) {
	_, err := Parse([]byte(`{"experiences":[{"start_date":"03/2021"}]}`))
	require.Error(t, err)
}
