package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantale/polyarb/internal/domain"
)

const sampleDoc = `
group:
  id: election-2028
  title: Presidential election 2028
  conditions:
    - label: dem_wins
      token_id: "101"
    - label: rep_wins
      token_id: "102"
    - label: dem_wins_pa
      token_id: "103"
  rules:
    - type: exclusive
      conditions: [dem_wins, rep_wins]
    - type: implies
      parent: dem_wins
      child: dem_wins_pa
      confidence: 0.95
`

func TestParse_FullDocument(t *testing.T) {
	loaded, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "election-2028", loaded.Group.ID)
	assert.Equal(t, "Presidential election 2028", loaded.Group.Title)
	assert.Equal(t, "active", loaded.Group.Status)
	require.Len(t, loaded.Group.Conditions, 3)
	assert.Equal(t, "dem_wins", loaded.Group.Conditions[0].Label)
	assert.Equal(t, "102", loaded.Group.Conditions[1].TokenID)
	assert.Equal(t, 2, loaded.Group.Conditions[2].Index)

	require.Len(t, loaded.Rules, 2)
	excl := loaded.Rules[0]
	assert.Equal(t, domain.RuleExclusive, excl.Type)
	assert.Equal(t, []int{0, 1}, excl.Conditions)
	assert.Equal(t, "election-2028", excl.GroupID)
	assert.Equal(t, "file", excl.Source)
	assert.InDelta(t, 1.0, excl.Confidence, 1e-12) // default

	imp := loaded.Rules[1]
	assert.Equal(t, domain.RuleImplies, imp.Type)
	assert.Equal(t, []int{0, 2}, imp.Conditions) // [parent, child]
	assert.InDelta(t, 0.95, imp.Confidence, 1e-12)
	assert.NotEmpty(t, imp.ID)
}

func TestParse_Rejections(t *testing.T) {
	cases := map[string]string{
		"not yaml": "{{",
		"missing group id": `
group:
  conditions:
    - label: a
    - label: b
`,
		"no conditions": `
group:
  id: g1
`,
		"unlabeled condition": `
group:
  id: g1
  conditions:
    - token_id: "1"
`,
		"duplicate label": `
group:
  id: g1
  conditions:
    - label: a
    - label: a
`,
		"unknown parent": `
group:
  id: g1
  conditions:
    - label: a
    - label: b
  rules:
    - type: implies
      parent: missing
      child: a
`,
		"unknown set member": `
group:
  id: g1
  conditions:
    - label: a
    - label: b
  rules:
    - type: exclusive
      conditions: [a, missing]
`,
		"unknown rule type": `
group:
  id: g1
  conditions:
    - label: a
    - label: b
  rules:
    - type: requires
      conditions: [a, b]
`,
		"set too small": `
group:
  id: g1
  conditions:
    - label: a
    - label: b
  rules:
    - type: exhaustive
      conditions: [a]
`,
	}

	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestParse_TypeNormalization(t *testing.T) {
	doc := `
group:
  id: g1
  conditions:
    - label: a
    - label: b
  rules:
    - type: " Exclusive "
      conditions: [a, b]
`
	loaded, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, domain.RuleExclusive, loaded.Rules[0].Type)
}

func TestLoadDir_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()

	docA := `
group:
  id: group-a
  conditions:
    - label: a
    - label: b
`
	docB := `
group:
  id: group-b
  conditions:
    - label: x
    - label: y
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(docB), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte(docA), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	loaded, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "group-a", loaded[0].Group.ID)
	assert.Equal(t, "group-b", loaded[1].Group.ID)
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := []domain.DependencyRule{
		{Type: domain.RuleImplies, Conditions: []int{0, 1}},
		{Type: domain.RuleExclusive, Conditions: []int{0, 1, 2}},
		{Type: domain.RuleExhaustive, Conditions: []int{1, 2}},
	}
	assert.NoError(t, Validate(3, ok))

	assert.Error(t, Validate(3, []domain.DependencyRule{
		{Type: domain.RuleImplies, Conditions: []int{0, 1, 2}},
	}))
	assert.Error(t, Validate(3, []domain.DependencyRule{
		{Type: domain.RuleExclusive, Conditions: []int{2}},
	}))
	assert.Error(t, Validate(3, []domain.DependencyRule{
		{Type: domain.RuleImplies, Conditions: []int{0, 3}},
	}))
	assert.Error(t, Validate(3, []domain.DependencyRule{
		{Type: "subset", Conditions: []int{0, 1}},
	}))
}
