package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamicool/PPD/internal/catalog"
	"github.com/jamicool/PPD/internal/core/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestPipeline(t *testing.T) (*Pipeline, *MockStore) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	store := NewMockStore()
	svc := NewPipeline(store, cat, nil)

	counter := 0
	svc.UUIDGenerator = func() string {
		counter++
		return fmt.Sprintf("uuid-%d", counter)
	}
	clock := &fakeClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc.Now = clock.Now
	svc.SimulationDelay = time.Millisecond
	return svc, store
}

func TestCreate_FreshProject(t *testing.T) {
	svc := NewPipeline(NewMockStore(), nil, nil)

	p, err := svc.Create(context.Background(), &model.Project{Name: "Line A", Type: model.ProjectTypeGas})
	require.NoError(t, err)

	assert.Len(t, p.ID, 36)
	assert.Equal(t, p.CreatedAt, p.UpdatedAt)
	assert.Equal(t, int64(1), p.Revision)
	assert.Empty(t, p.Nodes)
	assert.NotNil(t, p.Nodes)
}

func TestCreate_DefaultsChildren(t *testing.T) {
	svc, store := newTestPipeline(t)

	p, err := svc.Create(context.Background(), &model.Project{
		ID:   "undefined",
		Type: "",
		Nodes: []model.Node{
			{ID: "", Type: "valve"},
			{ID: "n-2", Type: "well", Position: &model.Position{X: 5, Y: 6}},
		},
		Connections: []model.Connection{{SourceID: "uuid-2", TargetID: "n-2"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "uuid-1", p.ID)
	assert.Equal(t, model.DefaultProjectName, p.Name)
	assert.Equal(t, model.ProjectTypeGas, p.Type)
	assert.Equal(t, "uuid-2", p.Nodes[0].ID)
	assert.Equal(t, model.DefaultPosition, *p.Nodes[0].Position)
	assert.Equal(t, model.Position{X: 5, Y: 6}, *p.Nodes[1].Position)
	assert.NotNil(t, p.Nodes[0].Properties)
	assert.Equal(t, "uuid-3", p.Connections[0].ID)
	assert.NotNil(t, p.Connections[0].Properties)

	body, err := json.Marshal(p.Nodes[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"properties":{}`)
	assert.Equal(t, 1, store.Inserted)
}

func TestCreate_DuplicateNodeIDs(t *testing.T) {
	svc, _ := newTestPipeline(t)
	_, err := svc.Create(context.Background(), &model.Project{
		Nodes: []model.Node{{ID: "a"}, {ID: "a"}},
	})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestReplace_CreatesWhenAbsent(t *testing.T) {
	svc, store := newTestPipeline(t)

	p, err := svc.Replace(context.Background(), "p-1", &model.Project{Name: "Upserted"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)
	assert.Equal(t, int64(1), p.Revision)
	assert.Equal(t, 1, store.Inserted)
}

func TestReplace_BumpsRevisionAndKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestPipeline(t)

	created, err := svc.Create(ctx, &model.Project{Name: "Line"})
	require.NoError(t, err)

	next := created.Clone()
	next.Name = "Line v2"
	next.Nodes = []model.Node{{Type: "pipe"}}
	updated, err := svc.Replace(ctx, created.ID, next)
	require.NoError(t, err)

	assert.Equal(t, int64(2), updated.Revision)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, 1, store.Replaced)

	stored, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Line v2", stored.Name)
	assert.Len(t, stored.Nodes, 1)
}

func TestReplace_StaleRevisionConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPipeline(t)
	created, err := svc.Create(ctx, &model.Project{Name: "Line"})
	require.NoError(t, err)

	first := created.Clone()
	_, err = svc.Replace(ctx, created.ID, first)
	require.NoError(t, err)

	// a second client still holding revision 1
	stale := created.Clone()
	stale.Name = "Overwrite"
	_, err = svc.Replace(ctx, created.ID, stale)
	assert.ErrorIs(t, err, model.ErrConflict)

	// revision 0 means no token and always wins
	stale.Revision = 0
	p, err := svc.Replace(ctx, created.ID, stale)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Revision)
}

func TestReplace_TokenlessWriteRetriesAfterConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestPipeline(t)
	created, err := svc.Create(ctx, &model.Project{Name: "Line"})
	require.NoError(t, err)

	// another writer lands between the read and the replace, once
	races := 1
	store.BeforeReplace = func() {
		if races > 0 {
			races--
			store.Touch(created.ID)
		}
	}

	next := created.Clone()
	next.Name = "Line v2"
	next.Revision = 0
	saved, err := svc.Replace(ctx, created.ID, next)
	require.NoError(t, err)
	assert.Equal(t, "Line v2", saved.Name)
	assert.Equal(t, int64(3), saved.Revision)
	assert.Equal(t, 1, store.Replaced)

	// with a token the same race is a conflict
	races = 1
	stale := saved.Clone()
	_, err = svc.Replace(ctx, created.ID, stale)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestReplace_TokenlessGivesUpUnderConstantContention(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestPipeline(t)
	created, err := svc.Create(ctx, &model.Project{Name: "Line"})
	require.NoError(t, err)

	calls := 0
	store.BeforeReplace = func() {
		calls++
		store.Touch(created.ID)
	}
	next := created.Clone()
	next.Revision = 0
	_, err = svc.Replace(ctx, created.ID, next)
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, tokenlessAttempts, calls)
}

func TestList_SwallowsErrors(t *testing.T) {
	svc, store := newTestPipeline(t)
	store.Err = errors.New("db down")

	list := svc.List(context.Background())
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestList_Limit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPipeline(t)
	svc.ListLimit = 2
	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, &model.Project{Name: fmt.Sprintf("P%d", i)})
		require.NoError(t, err)
	}

	list := svc.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, "P2", list[0].Name)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPipeline(t)
	p, err := svc.Create(ctx, &model.Project{Name: "Gone"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, p.ID))
	_, err = svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, p.ID), model.ErrNotFound)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPipeline(t)

	orig, err := svc.Create(ctx, &model.Project{
		Name: "Main/Line",
		Type: model.ProjectTypeOil,
		Nodes: []model.Node{
			{ID: "a", Type: "pump", Properties: model.Properties{"name": model.String("P1")}},
			{ID: "b", Type: "tank"},
		},
		Connections: []model.Connection{{ID: "c", SourceID: "a", TargetID: "b"}},
	})
	require.NoError(t, err)

	data, name, err := svc.Export(ctx, orig.ID)
	require.NoError(t, err)
	assert.Regexp(t, `^Main_Line_\d{14}\.json$`, name)
	assert.Contains(t, string(data), "\n  \"name\": \"Main/Line\"")

	imported, err := svc.Import(ctx, append([]byte("\xEF\xBB\xBF"), data...))
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, imported.ID)
	assert.Equal(t, "Main/Line", imported.Name)
	assert.Equal(t, model.ProjectTypeOil, imported.Type)
	require.Len(t, imported.Nodes, 2)
	assert.NotEqual(t, "a", imported.Nodes[0].ID)
	require.Len(t, imported.Connections, 1)
	assert.Equal(t, imported.Nodes[0].ID, imported.Connections[0].SourceID)
	assert.Equal(t, imported.Nodes[1].ID, imported.Connections[0].TargetID)
	assert.Equal(t, int64(1), imported.Revision)

	_, err = svc.Import(ctx, []byte("not json"))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, _, err = svc.Export(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestExportFileName(t *testing.T) {
	at := time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC)
	assert.Equal(t, "North_20241231235958.json", ExportFileName("North", at))
	assert.Equal(t, "a_b_20241231235958.json", ExportFileName("a:b", at))
	assert.Equal(t, "project_20241231235958.json", ExportFileName("  ", at))
}

func TestValidate(t *testing.T) {
	svc, _ := newTestPipeline(t)

	t.Run("valid diagram", func(t *testing.T) {
		res := svc.Validate(context.Background(), &model.Project{
			Nodes: []model.Node{
				{ID: "w", Type: "well", Properties: model.Properties{"name": model.String("W1")}},
				{ID: "v", Type: "valve", Properties: model.Properties{}},
			},
			Connections: []model.Connection{{ID: "c", SourceID: "w", TargetID: "v"}},
		})
		assert.True(t, res.IsValid)
		assert.Empty(t, res.Errors)
		assert.Empty(t, res.Warnings)
	})

	t.Run("schema errors and warnings", func(t *testing.T) {
		res := svc.Validate(context.Background(), &model.Project{
			Nodes: []model.Node{
				{ID: "w", Type: "well", Properties: model.Properties{"pressure": model.Number(-5)}},
				{ID: "x", Type: "teleporter"},
				{ID: "lonely", Type: "valve"},
			},
			Connections: []model.Connection{
				{ID: "c1", SourceID: "w", TargetID: "x"},
				{ID: "c2", SourceID: "w", TargetID: "x"},
				{ID: "c3", SourceID: "w", TargetID: "w"},
				{ID: "c4", SourceID: "w", TargetID: "ghost"},
			},
		})
		assert.False(t, res.IsValid)
		assert.Len(t, res.Errors, 2) // missing name, negative pressure
		assert.Len(t, res.Warnings, 5)
	})

	t.Run("nil project", func(t *testing.T) {
		res := svc.Validate(context.Background(), nil)
		assert.False(t, res.IsValid)
	})
}

func TestSimulate(t *testing.T) {
	svc, _ := newTestPipeline(t)
	res, err := svc.Simulate(context.Background(), model.SimulationRequest{ProjectID: "p"})
	require.NoError(t, err)
	assert.True(t, res.IsSuccessful)
	assert.Equal(t, "p", res.ProjectID)
	assert.NotNil(t, res.NodeResults)

	svc.SimulationDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Simulate(ctx, model.SimulationRequest{ProjectID: "p"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealth(t *testing.T) {
	svc, store := newTestPipeline(t)
	_, err := svc.Create(context.Background(), &model.Project{})
	require.NoError(t, err)

	n, err := svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	store.Err = errors.New("down")
	_, err = svc.Health(context.Background())
	assert.Error(t, err)
}
