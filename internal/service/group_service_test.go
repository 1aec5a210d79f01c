package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantale/polyarb/internal/domain"
)

type recordingInvalidator struct {
	invalidated []string
}

func (r *recordingInvalidator) InvalidateModel(groupID string) {
	r.invalidated = append(r.invalidated, groupID)
}

type groupFixture struct {
	svc         *GroupService
	groups      *fakeGroups
	rules       *fakeRules
	audit       *fakeAudit
	invalidator *recordingInvalidator
}

func newGroupFixture(groups ...domain.ConditionGroup) *groupFixture {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	f := &groupFixture{
		groups:      newFakeGroups(groups...),
		rules:       newFakeRules(),
		audit:       &fakeAudit{},
		invalidator: &recordingInvalidator{},
	}
	f.svc = NewGroupService(
		f.groups, f.rules, &fakeGroupCache{}, f.audit,
		nil, f.invalidator, "", logger,
	)
	return f
}

func twoConditionGroup(id string) domain.ConditionGroup {
	return domain.ConditionGroup{
		ID:     id,
		Title:  "Group " + id,
		Status: "active",
		Conditions: []domain.Condition{
			{Index: 0, Label: "a", TokenID: "tok-a"},
			{Index: 1, Label: "b", TokenID: "tok-b"},
		},
	}
}

func TestGroupService_Get(t *testing.T) {
	f := newGroupFixture(twoConditionGroup("g1"))
	ctx := context.Background()

	g, err := f.svc.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Group g1", g.Title)

	_, err = f.svc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGroupService_ReplaceRules(t *testing.T) {
	f := newGroupFixture(twoConditionGroup("g1"))
	ctx := context.Background()

	err := f.svc.ReplaceRules(ctx, "g1", []domain.DependencyRule{
		{Type: domain.RuleImplies, Conditions: []int{0, 1}},
	})
	require.NoError(t, err)

	stored, err := f.rules.ListByGroup(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	// Defaults filled in on the way through.
	assert.Equal(t, "g1", stored[0].GroupID)
	assert.NotEmpty(t, stored[0].ID)
	assert.InDelta(t, 1.0, stored[0].Confidence, 1e-12)
	assert.False(t, stored[0].CreatedAt.IsZero())

	assert.Equal(t, []string{"g1"}, f.invalidator.invalidated)
	assert.Contains(t, f.audit.recorded(), "group.rules_replaced")
}

func TestGroupService_ReplaceRulesValidates(t *testing.T) {
	f := newGroupFixture(twoConditionGroup("g1"))

	// Index 5 is out of range for a two-condition group.
	err := f.svc.ReplaceRules(context.Background(), "g1", []domain.DependencyRule{
		{Type: domain.RuleImplies, Conditions: []int{0, 5}},
	})
	assert.Error(t, err)

	stored, _ := f.rules.ListByGroup(context.Background(), "g1")
	assert.Empty(t, stored)
	assert.Empty(t, f.invalidator.invalidated)
}

func TestGroupService_ImportFile(t *testing.T) {
	f := newGroupFixture()
	doc := `
group:
  id: imported-1
  title: Imported
  conditions:
    - label: a
      token_id: "1"
    - label: b
      token_id: "2"
  rules:
    - type: exclusive
      conditions: [a, b]
`
	g, err := f.svc.ImportFile(context.Background(), []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "imported-1", g.ID)

	stored, err := f.groups.GetByID(context.Background(), "imported-1")
	require.NoError(t, err)
	assert.Len(t, stored.Conditions, 2)

	ruleList, _ := f.rules.ListByGroup(context.Background(), "imported-1")
	assert.Len(t, ruleList, 1)
	assert.Contains(t, f.audit.recorded(), "group.imported")
	assert.Equal(t, []string{"imported-1"}, f.invalidator.invalidated)
}

func TestGroupService_ImportFileRejectsBadDoc(t *testing.T) {
	f := newGroupFixture()

	_, err := f.svc.ImportFile(context.Background(), []byte("group:\n  id: ''\n"))
	assert.Error(t, err)
	assert.Empty(t, f.invalidator.invalidated)
}

func TestGroupService_ImportDir(t *testing.T) {
	f := newGroupFixture()
	dir := t.TempDir()

	good := `
group:
  id: good-1
  conditions:
    - label: a
    - label: b
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(good), 0o644))

	applied, err := f.svc.ImportDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	_, err = f.groups.GetByID(context.Background(), "good-1")
	assert.NoError(t, err)
}

func TestGroupService_SyncWithoutGammaClient(t *testing.T) {
	f := newGroupFixture()

	_, err := f.svc.SyncFromGamma(context.Background(), 1)
	assert.Error(t, err)
}
