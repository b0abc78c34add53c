package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamicool/PPD/internal/catalog"
	"github.com/jamicool/PPD/internal/core/draft"
	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/progress"
)

func newTestStore(t *testing.T) (*Store, *MockGateway, *MockChannel) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	gw := NewMockGateway()
	ch := &MockChannel{}
	counter := 0
	s := New(gw, ch, cat, WithIDFunc(func() string {
		counter++
		return fmt.Sprintf("id-%d", counter)
	}))
	t.Cleanup(s.Close)
	return s, gw, ch
}

func withProject(t *testing.T, s *Store) *model.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), model.Project{Name: "Line A", Type: model.ProjectTypeGas})
	require.NoError(t, err)
	return p
}

func TestCreateProject(t *testing.T) {
	s, gw, _ := newTestStore(t)

	p, err := s.CreateProject(context.Background(), model.Project{})
	require.NoError(t, err)
	assert.Equal(t, "id-1", p.ID)
	assert.Equal(t, model.DefaultProjectName, p.Name)
	assert.Equal(t, model.ProjectTypeGas, p.Type)
	assert.Equal(t, int64(1), p.Revision)
	assert.Equal(t, p.CreatedAt, p.UpdatedAt)

	assert.Equal(t, 1, gw.Saves)
	assert.Equal(t, 1, gw.Lists)
	require.Len(t, s.Projects(), 1)
	assert.Equal(t, p.ID, s.CurrentProject().ID)
}

func TestMutationsWithoutProjectAreNoops(t *testing.T) {
	s, gw, ch := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddNode(ctx, model.Node{Type: "valve"})
	require.NoError(t, err)
	assert.Empty(t, n.ID)
	require.NoError(t, s.UpdateNodePosition(ctx, "x", model.Position{}))
	_, added, err := s.AddConnection(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, added)
	require.NoError(t, s.DeleteElement(ctx, "x"))
	saved, err := s.SaveProject(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved)
	require.NoError(t, s.StartSimulation(ctx))

	_, ok := s.ValidateProject(ctx)
	assert.False(t, ok)
	_, _, err = s.ExportProject(ctx)
	assert.ErrorIs(t, err, ErrNoProject)

	assert.Zero(t, gw.Saves)
	assert.Empty(t, ch.Started)
}

func TestAddNode_DefaultsAndSave(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	withProject(t, s)

	n, err := s.AddNode(ctx, model.Node{
		Type:       "well",
		Position:   &model.Position{X: 0, Y: 0},
		Properties: model.Properties{"name": model.String("W-7")},
	})
	require.NoError(t, err)
	assert.Equal(t, "id-2", n.ID)
	assert.Equal(t, model.String("W-7"), n.Properties["name"])
	assert.Equal(t, model.String("active"), n.Properties["status"])

	p := s.CurrentProject()
	require.Len(t, p.Nodes, 1)
	assert.Equal(t, model.Position{X: 0, Y: 0}, *p.Nodes[0].Position)
	assert.Equal(t, int64(2), p.Revision)
	assert.Equal(t, 2, gw.Saves)
	assert.Equal(t, 2, gw.Lists)
}

func TestUpdateNodeProperties_MergesAndValidates(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	withProject(t, s)
	n, err := s.AddNode(ctx, model.Node{Type: "well"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateNodeProperties(ctx, n.ID, model.Properties{"a": model.Number(1)}))
	require.NoError(t, s.UpdateNodeProperties(ctx, n.ID, model.Properties{"b": model.Number(2)}))
	props := s.CurrentProject().Nodes[0].Properties
	assert.Equal(t, model.Number(1), props["a"])
	assert.Equal(t, model.Number(2), props["b"])

	saves := gw.Saves
	err = s.UpdateNodeProperties(ctx, n.ID, model.Properties{
		"pressure": model.Number(-5),
		"status":   model.String("exploded"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))
	assert.Equal(t, saves, gw.Saves)
	assert.Equal(t, model.Number(80), s.CurrentProject().Nodes[0].Properties["pressure"])

	// unknown node: nothing to validate against and nothing changes
	require.NoError(t, s.UpdateNodeProperties(ctx, "ghost", model.Properties{"x": model.Bool(true)}))
	assert.Equal(t, saves, gw.Saves)
}

func TestUpdateNodePosition(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	withProject(t, s)
	n, _ := s.AddNode(ctx, model.Node{Type: "valve"})

	require.NoError(t, s.UpdateNodePosition(ctx, n.ID, model.Position{X: 5, Y: 6}))
	assert.Equal(t, model.Position{X: 5, Y: 6}, *s.CurrentProject().Nodes[0].Position)

	saves := gw.Saves
	require.NoError(t, s.UpdateNodePosition(ctx, "missing", model.Position{X: 1}))
	assert.Equal(t, saves, gw.Saves)
}

func TestNonFiniteNumbersAreRefused(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	withProject(t, s)
	n, err := s.AddNode(ctx, model.Node{Type: "valve"})
	require.NoError(t, err)
	saves := gw.Saves

	// "note" is outside the valve schema, so only the finiteness check applies
	err = s.UpdateNodeProperties(ctx, n.ID, model.Properties{"note": model.Number(math.NaN())})
	assert.ErrorIs(t, err, model.ErrValidation)
	err = s.UpdateNodePosition(ctx, n.ID, model.Position{X: math.Inf(1), Y: 0})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = s.AddNode(ctx, model.Node{Type: "valve", Position: &model.Position{X: math.NaN()}})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, saves, gw.Saves)

	p := s.CurrentProject()
	require.Len(t, p.Nodes, 1)
	_, has := p.Nodes[0].Properties["note"]
	assert.False(t, has)
	_, err = json.Marshal(p)
	require.NoError(t, err)

	// the project is still saveable afterwards
	require.NoError(t, s.UpdateNodeProperties(ctx, n.ID, model.Properties{"note": model.ParseValue("NaN")}))
	assert.Equal(t, saves+1, gw.Saves)
	assert.Equal(t, model.String("NaN"), s.CurrentProject().Nodes[0].Properties["note"])
}

func TestAddConnection_Dedupes(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	withProject(t, s)

	c, added, err := s.AddConnection(ctx, "n1", "n2")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, model.Properties{}, c.Properties)
	saves := gw.Saves

	_, added, err = s.AddConnection(ctx, "n1", "n2")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, saves, gw.Saves)

	_, added, err = s.AddConnection(ctx, "n2", "n1")
	require.NoError(t, err)
	assert.True(t, added)

	conns := s.CurrentProject().Connections
	require.Len(t, conns, 2)
	assert.Equal(t, "n1", conns[0].SourceID)
	assert.Equal(t, "n2", conns[0].TargetID)
}

func TestDeleteElement_CascadesAndClearsSelection(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	withProject(t, s)
	a, _ := s.AddNode(ctx, model.Node{Type: "valve"})
	b, _ := s.AddNode(ctx, model.Node{Type: "valve"})
	c, _, _ := s.AddConnection(ctx, a.ID, b.ID)

	sel := s.Select(a.ID)
	assert.Equal(t, model.ElementNode, sel.Kind)

	require.NoError(t, s.DeleteElement(ctx, a.ID))
	p := s.CurrentProject()
	require.Len(t, p.Nodes, 1)
	assert.Empty(t, p.Connections)
	assert.True(t, s.Selection().Empty())

	_, _, _ = s.AddConnection(ctx, b.ID, b.ID)
	cid := s.CurrentProject().Connections[0].ID
	assert.NotEqual(t, c.ID, cid)
	assert.Equal(t, model.ElementConnection, s.Select(cid).Kind)
	require.NoError(t, s.DeleteElement(ctx, b.ID))
	assert.True(t, s.Selection().Empty())
	assert.Empty(t, s.CurrentProject().Nodes)
}

func TestSelect_UnknownClears(t *testing.T) {
	s, _, _ := newTestStore(t)
	withProject(t, s)
	n, _ := s.AddNode(context.Background(), model.Node{Type: "valve"})
	s.Select(n.ID)
	assert.True(t, s.Select("nope").Empty())
	assert.True(t, s.Select("").Empty())
}

func TestConnectionDraft(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	withProject(t, s)

	// finishing while idle does nothing
	require.NoError(t, s.FinishConnection(ctx, "n2"))
	assert.Empty(t, s.CurrentProject().Connections)

	s.StartConnection("n1", "")
	assert.Equal(t, draft.State{Active: true, SourceNodeID: "n1", Kind: draft.KindRegular}, s.Draft())
	s.StartConnection("n3", draft.KindStart)
	assert.Equal(t, "n3", s.Draft().SourceNodeID)

	require.NoError(t, s.FinishConnection(ctx, "n2"))
	assert.False(t, s.Draft().Active)
	conns := s.CurrentProject().Connections
	require.Len(t, conns, 1)
	assert.Equal(t, "n3", conns[0].SourceID)
	assert.Equal(t, "n2", conns[0].TargetID)

	s.StartConnection("n1", draft.KindEnd)
	s.CancelConnection()
	assert.False(t, s.Draft().Active)
	assert.Len(t, s.CurrentProject().Connections, 1)
}

func TestSaveFailureKeepsLocalEdit(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	withProject(t, s)

	gw.SaveErr = fmt.Errorf("down: %w", model.ErrTransport)
	_, err := s.AddNode(ctx, model.Node{Type: "valve"})
	assert.ErrorIs(t, err, model.ErrTransport)
	assert.Len(t, s.CurrentProject().Nodes, 1)
}

func TestSaveConflictSurfaces(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	p := withProject(t, s)

	// another editor saves first
	other := p.Clone()
	other.Name = "theirs"
	_, err := gw.Save(ctx, other)
	require.NoError(t, err)

	_, err = s.AddNode(ctx, model.Node{Type: "valve"})
	assert.ErrorIs(t, err, model.ErrConflict)

	reloaded, err := s.LoadProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "theirs", reloaded.Name)
}

func TestLoadProjects_FailureEmptiesList(t *testing.T) {
	s, gw, _ := newTestStore(t)
	withProject(t, s)
	require.Len(t, s.Projects(), 1)

	gw.ListFails = true
	assert.Empty(t, s.LoadProjects(context.Background()))
	assert.NotNil(t, s.Projects())
	assert.Empty(t, s.Projects())
}

func TestLoadProject(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	first := withProject(t, s)
	n, _ := s.AddNode(ctx, model.Node{Type: "valve"})
	s.Select(n.ID)
	s.StartConnection(n.ID, draft.KindRegular)

	second, err := s.CreateProject(ctx, model.Project{Name: "Line B", Type: model.ProjectTypeOil})
	require.NoError(t, err)
	assert.Equal(t, "Line B", s.CurrentProject().Name)
	assert.True(t, s.Selection().Empty())
	assert.False(t, s.Draft().Active)

	loaded, err := s.LoadProject(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 1)
	assert.NotEqual(t, second.ID, s.CurrentProject().ID)

	_, err = s.LoadProject(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, first.ID, s.CurrentProject().ID)

	gw.Err = errors.New("boom")
	_, err = s.LoadProject(ctx, first.ID)
	assert.Error(t, err)
}

func TestDeleteProject(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	p := withProject(t, s)

	require.NoError(t, s.DeleteProject(ctx, p.ID))
	assert.Nil(t, s.CurrentProject())
	assert.Empty(t, s.Projects())
	assert.ErrorIs(t, s.DeleteProject(ctx, p.ID), model.ErrNotFound)
}

func TestValidateProject_Fallback(t *testing.T) {
	s, gw, _ := newTestStore(t)
	withProject(t, s)

	res, ok := s.ValidateProject(context.Background())
	require.True(t, ok)
	assert.True(t, res.IsValid)

	gw.Err = fmt.Errorf("offline: %w", model.ErrTransport)
	res, ok = s.ValidateProject(context.Background())
	require.True(t, ok)
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{"Validation error"}, res.Errors)
	assert.Equal(t, []string{}, res.Warnings)
}

func TestExportImport(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	p := withProject(t, s)

	data, name, err := s.ExportProject(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Line A.json", name)
	assert.Contains(t, string(data), p.ID)

	imported, err := s.ImportProject(ctx, "copy.json", data)
	require.NoError(t, err)
	assert.Equal(t, imported.ID, s.CurrentProject().ID)
	assert.Len(t, s.Projects(), 2)

	gw.Err = fmt.Errorf("bad file: %w", model.ErrValidation)
	_, err = s.ImportProject(ctx, "bad.json", []byte("x"))
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, imported.ID, s.CurrentProject().ID)
}

func TestSimulationLifecycle(t *testing.T) {
	s, _, ch := newTestStore(t)
	ctx := context.Background()
	p := withProject(t, s)

	require.NoError(t, s.StartSimulation(ctx))
	assert.Equal(t, []string{p.ID}, ch.Started)
	assert.True(t, s.Simulation().Running)
	assert.Zero(t, s.Simulation().Percent)

	ch.emitQueued(progress.QueuedPayload{TaskID: "t-1", ProjectID: p.ID})
	for pct := 0; pct <= 100; pct += 10 {
		ch.emitProgress(pct)
		assert.Equal(t, pct, s.Simulation().Percent)
	}
	ch.emitCompleted(model.SimulationResult{ProjectID: p.ID, IsSuccessful: true})

	sim := s.Simulation()
	assert.False(t, sim.Running)
	assert.Equal(t, 100, sim.Percent)
	assert.Equal(t, "t-1", sim.TaskID)
	require.NotNil(t, sim.Result)
	assert.True(t, sim.Result.IsSuccessful)

	// a restart clears the previous outcome
	require.NoError(t, s.StartSimulation(ctx))
	assert.Nil(t, s.Simulation().Result)
	ch.emitError("solver crashed")
	assert.False(t, s.Simulation().Running)
	assert.Equal(t, "solver crashed", s.Simulation().Error)
}

func TestStopSimulation(t *testing.T) {
	s, _, ch := newTestStore(t)
	ctx := context.Background()
	p := withProject(t, s)

	require.NoError(t, s.StartSimulation(ctx))
	ch.emitQueued(progress.QueuedPayload{TaskID: "t-1", ProjectID: p.ID})
	require.NoError(t, s.StopSimulation(ctx))
	assert.Equal(t, []string{p.ID}, ch.Stopped)
	assert.False(t, s.Simulation().Running)
	ch.emitStopped(p.ID)
	assert.False(t, s.Simulation().Running)

	// a stop the server makes on its own ends the run too
	require.NoError(t, s.StartSimulation(ctx))
	ch.emitQueued(progress.QueuedPayload{TaskID: "t-2", ProjectID: p.ID})
	ch.emitStopped(p.ID)
	assert.False(t, s.Simulation().Running)
}

func TestRestartIgnoresLateStopAcknowledgement(t *testing.T) {
	s, _, ch := newTestStore(t)
	ctx := context.Background()
	p := withProject(t, s)

	t.Run("queued before the stop", func(t *testing.T) {
		require.NoError(t, s.StartSimulation(ctx))
		ch.emitQueued(progress.QueuedPayload{TaskID: "t-1", ProjectID: p.ID})
		ch.emitProgress(20)
		require.NoError(t, s.StopSimulation(ctx))
		require.NoError(t, s.StartSimulation(ctx))

		// the hub answers in order: the old run's straggler, the stop, the new run
		ch.emitProgress(40)
		ch.emitStopped(p.ID)
		sim := s.Simulation()
		assert.True(t, sim.Running)
		assert.Zero(t, sim.Percent)

		ch.emitQueued(progress.QueuedPayload{TaskID: "t-2", ProjectID: p.ID})
		ch.emitProgress(30)
		sim = s.Simulation()
		assert.True(t, sim.Running)
		assert.Equal(t, 30, sim.Percent)
		assert.Equal(t, "t-2", sim.TaskID)

		ch.emitCompleted(model.SimulationResult{ProjectID: p.ID, TaskID: "t-2", IsSuccessful: true})
		assert.False(t, s.Simulation().Running)
		assert.Equal(t, 100, s.Simulation().Percent)
	})

	t.Run("all sent before any reply", func(t *testing.T) {
		require.NoError(t, s.StartSimulation(ctx))
		require.NoError(t, s.StopSimulation(ctx))
		require.NoError(t, s.StartSimulation(ctx))

		ch.emitQueued(progress.QueuedPayload{TaskID: "t-3", ProjectID: p.ID})
		ch.emitProgress(50)
		ch.emitCompleted(model.SimulationResult{ProjectID: p.ID, TaskID: "t-3", IsSuccessful: true})
		ch.emitStopped(p.ID)
		sim := s.Simulation()
		assert.True(t, sim.Running)
		assert.Nil(t, sim.Result)
		assert.Empty(t, sim.TaskID)

		ch.emitQueued(progress.QueuedPayload{TaskID: "t-4", ProjectID: p.ID})
		ch.emitProgress(60)
		assert.Equal(t, "t-4", s.Simulation().TaskID)
		assert.Equal(t, 60, s.Simulation().Percent)
	})
}

func TestSwitchingProjectsDropsSimulation(t *testing.T) {
	s, _, ch := newTestStore(t)
	ctx := context.Background()
	first := withProject(t, s)

	require.NoError(t, s.StartSimulation(ctx))
	ch.emitQueued(progress.QueuedPayload{TaskID: "t-1", ProjectID: first.ID})
	ch.emitProgress(70)

	second, err := s.CreateProject(ctx, model.Project{Name: "Line B"})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, ch.Stopped, "the abandoned run is stopped")
	assert.Equal(t, SimulationState{}, s.Simulation())

	ch.emitCompleted(model.SimulationResult{ProjectID: first.ID, TaskID: "t-1", IsSuccessful: true})
	ch.emitStopped(first.ID)
	assert.Nil(t, s.Simulation().Result)
	assert.Equal(t, second.ID, s.CurrentProject().ID)

	require.NoError(t, s.StartSimulation(ctx))
	ch.emitQueued(progress.QueuedPayload{TaskID: "t-2", ProjectID: second.ID})
	ch.emitProgress(10)
	sim := s.Simulation()
	assert.Equal(t, second.ID, sim.ProjectID)
	assert.True(t, sim.Running)
	assert.Equal(t, 10, sim.Percent)
}

func TestReconnectForgetsOwedAcknowledgements(t *testing.T) {
	s, _, ch := newTestStore(t)
	ctx := context.Background()
	p := withProject(t, s)

	ch.emitConnected("c-1")
	require.NoError(t, s.StartSimulation(ctx))
	require.NoError(t, s.StopSimulation(ctx))

	// the connection dropped before the hub answered; its runs are gone
	ch.emitConnected("c-2")
	require.NoError(t, s.StartSimulation(ctx))
	ch.emitQueued(progress.QueuedPayload{TaskID: "t-9", ProjectID: p.ID})
	ch.emitProgress(25)
	assert.Equal(t, 25, s.Simulation().Percent)
	assert.Equal(t, "t-9", s.Simulation().TaskID)
}

func TestStartSimulation_ConnectFailure(t *testing.T) {
	s, _, ch := newTestStore(t)
	withProject(t, s)
	ch.ConnectErr = fmt.Errorf("refused: %w", model.ErrTransport)

	err := s.StartSimulation(context.Background())
	assert.ErrorIs(t, err, model.ErrTransport)
	assert.False(t, s.Simulation().Running)
	assert.Empty(t, ch.Started)
}

func TestClose_Unsubscribes(t *testing.T) {
	s, _, ch := newTestStore(t)
	withProject(t, s)
	s.Close()
	ch.emitProgress(40)
	assert.Zero(t, s.Simulation().Percent)
}

func TestAccessorsReturnCopies(t *testing.T) {
	s, _, _ := newTestStore(t)
	withProject(t, s)
	_, _ = s.AddNode(context.Background(), model.Node{Type: "valve"})

	p := s.CurrentProject()
	p.Name = "mutated"
	p.Nodes[0].Properties["x"] = model.Number(1)
	assert.Equal(t, "Line A", s.CurrentProject().Name)
	_, has := s.CurrentProject().Nodes[0].Properties["x"]
	assert.False(t, has)

	list := s.Projects()
	list[0].Name = "mutated"
	assert.NotEqual(t, "mutated", s.Projects()[0].Name)
}
