package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/store"
)

func TestHistoryWriteOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	h := NewHistory(ms, nil)
	ctx := context.Background()

	w, err := h.Start(ctx, "svc", "Service is Stopped")
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionInProgress, w.ResolutionStatus)
	assert.Nil(t, w.CompletedAt)
	assert.Empty(t, w.CommandsExecuted)

	cmds := []string{"Start-Service -Name \"svc\""}
	done, err := h.Finish(ctx, w.ID, models.ResolutionSuccess, cmds)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	cmds[0] = "mutated by caller"

	_, err = h.Finish(ctx, w.ID, models.ResolutionFailed, []string{"other"})
	assert.ErrorIs(t, err, ErrTerminal)

	again, ok := h.Get(w.ID)
	require.True(t, ok)
	assert.Equal(t, models.ResolutionSuccess, again.ResolutionStatus)
	assert.Equal(t, []string{"Start-Service -Name \"svc\""}, again.CommandsExecuted)
	assert.Equal(t, *done.CompletedAt, *again.CompletedAt)

	rows, err := ms.ListWorkflows(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ResolutionSuccess, rows[0].ResolutionStatus)
	assert.Equal(t, again.CommandsExecuted, rows[0].CommandsExecuted)
}

func TestHistoryFinishRejectsBadInput(t *testing.T) {
	h := NewHistory(nil, nil)
	_, err := h.Finish(context.Background(), "nope", models.ResolutionSuccess, nil)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)

	w, err := h.Start(context.Background(), "", "manual")
	require.NoError(t, err)
	assert.Nil(t, w.ServiceID)
	_, err = h.Finish(context.Background(), w.ID, models.ResolutionInProgress, nil)
	assert.Error(t, err)
}

func TestHistoryImportAndList(t *testing.T) {
	h := NewHistory(nil, nil)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	imported, err := h.Import(ctx, models.WorkflowHistory{
		ProblemIdentified: "External run",
		ResolutionStatus:  models.ResolutionSuccess,
		StartedAt:         old,
	})
	require.NoError(t, err)
	require.NotNil(t, imported.CompletedAt)

	_, err = h.Import(ctx, models.WorkflowHistory{ID: imported.ID})
	assert.Error(t, err)

	_, err = h.Import(ctx, models.WorkflowHistory{ResolutionStatus: "bogus"})
	assert.Error(t, err)

	w, err := h.Start(ctx, "svc", "High CPU usage: 95.0%")
	require.NoError(t, err)
	list := h.List(0)
	require.Len(t, list, 2)
	assert.Equal(t, w.ID, list[0].ID)
	assert.Equal(t, []string{w.ID}, h.Dangling())
}

func TestHistoryLoadOrdersByStart(t *testing.T) {
	h := NewHistory(nil, nil)
	now := time.Now()
	h.Load([]models.WorkflowHistory{
		{ID: "new", StartedAt: now, ResolutionStatus: models.ResolutionInProgress},
		{ID: "old", StartedAt: now.Add(-time.Minute), ResolutionStatus: models.ResolutionFailed},
	})
	list := h.List(1)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, []string{"new"}, h.Dangling())
}

type gatedWorkflowStore struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedWorkflowStore) InsertWorkflow(context.Context, *models.WorkflowHistory) error {
	g.entered <- struct{}{}
	<-g.release
	return nil
}

func (gatedWorkflowStore) UpdateWorkflow(context.Context, *models.WorkflowHistory) error { return nil }

func TestHistoryImportReservesIDDuringInsert(t *testing.T) {
	gs := gatedWorkflowStore{entered: make(chan struct{}), release: make(chan struct{})}
	h := NewHistory(gs, nil)
	ctx := context.Background()
	row := models.WorkflowHistory{ID: "wf-ext", ResolutionStatus: models.ResolutionSuccess}

	done := make(chan error, 1)
	go func() {
		_, err := h.Import(ctx, row)
		done <- err
	}()
	<-gs.entered

	_, err := h.Import(ctx, row)
	assert.ErrorIs(t, err, ErrDuplicateWorkflow)

	close(gs.release)
	require.NoError(t, <-done)
	assert.Len(t, h.List(0), 1)
}
