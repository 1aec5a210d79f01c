package polymarket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexBool(t *testing.T) {
	var m APIMarket
	require.NoError(t, json.Unmarshal([]byte(`{"active": true}`), &m))
	assert.True(t, bool(m.ActiveFromAPI))

	require.NoError(t, json.Unmarshal([]byte(`{"active": "True"}`), &m))
	assert.True(t, bool(m.ActiveFromAPI))

	require.NoError(t, json.Unmarshal([]byte(`{"active": "false"}`), &m))
	assert.False(t, bool(m.ActiveFromAPI))

	assert.Error(t, json.Unmarshal([]byte(`{"active": 7}`), &m))
}

func TestYesTokenID(t *testing.T) {
	m := APIMarket{Tokens: []Token{
		{TokenID: "111", Outcome: "No"},
		{TokenID: "222", Outcome: "YES"},
	}}
	assert.Equal(t, "222", m.YesTokenID())

	// Without a tokens array the first CLOB token ID is the Yes side.
	m = APIMarket{ClobTokenIDs: `["333","444"]`}
	assert.Equal(t, "333", m.YesTokenID())

	m = APIMarket{ClobTokenIDs: `garbage`}
	assert.Empty(t, m.YesTokenID())
}

func TestToConditionGroup(t *testing.T) {
	ev := APIEvent{
		ID:        "evt-1",
		Title:     "Election 2028",
		Active:    true,
		CreatedAt: "2026-08-01T12:00:00Z",
		UpdatedAt: "2026-08-15T09:30:00Z",
		Markets: []APIMarket{
			{ID: "m1", Question: "Will A win?", Tokens: []Token{{TokenID: "t1", Outcome: "Yes"}}},
			{ID: "m2", Slug: "will-b-win", ClobTokenIDs: `["t2","t2n"]`},
		},
	}

	g := ev.ToConditionGroup()
	assert.Equal(t, "evt-1", g.ID)
	assert.Equal(t, "Election 2028", g.Title)
	assert.Equal(t, "active", g.Status)
	assert.Equal(t, 2026, g.CreatedAt.Year())

	require.Len(t, g.Conditions, 2)
	assert.Equal(t, "Will A win?", g.Conditions[0].Label)
	assert.Equal(t, "t1", g.Conditions[0].TokenID)
	// Slug stands in for a missing question.
	assert.Equal(t, "will-b-win", g.Conditions[1].Label)
	assert.Equal(t, "t2", g.Conditions[1].TokenID)
	assert.Equal(t, 1, g.Conditions[1].Index)
}

func TestToConditionGroup_Status(t *testing.T) {
	assert.Equal(t, "closed", (&APIEvent{Closed: true, Active: true}).ToConditionGroup().Status)
	assert.Equal(t, "active", (&APIEvent{Active: true}).ToConditionGroup().Status)
	assert.Equal(t, "settled", (&APIEvent{}).ToConditionGroup().Status)
}
