package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vesaa/healdash/internal/feed"
	"github.com/vesaa/healdash/internal/models"
)

var (
	// ErrTerminal is returned when finishing a workflow that already finished.
	ErrTerminal = errors.New("registry: workflow already terminal")
	// ErrUnknownWorkflow is returned for ids the history never saw.
	ErrUnknownWorkflow = errors.New("registry: unknown workflow")
	// ErrDuplicateWorkflow is returned when importing an id already recorded.
	ErrDuplicateWorkflow = errors.New("registry: workflow already recorded")
	// ErrInvalidWorkflow is returned when importing a row with an unknown status.
	ErrInvalidWorkflow = errors.New("registry: invalid workflow")
)

// WorkflowStore is the persistence the History writes through to.
type WorkflowStore interface {
	InsertWorkflow(ctx context.Context, w *models.WorkflowHistory) error
	UpdateWorkflow(ctx context.Context, w *models.WorkflowHistory) error
}

// History is the ledger of remediation attempts. A row moves from
// in_progress to success or failed exactly once; after that its commands and
// completion time never change.
type History struct {
	mu       sync.Mutex
	rows     map[string]*models.WorkflowHistory
	order    []string            // start order
	reserved map[string]struct{} // imported ids whose store insert is in flight
	store    WorkflowStore
	pub      feed.Publisher
	now      func() time.Time
}

// NewHistory returns an empty ledger. store and pub may be nil.
func NewHistory(store WorkflowStore, pub feed.Publisher) *History {
	if pub == nil {
		pub = feed.Discard
	}
	return &History{
		rows:     make(map[string]*models.WorkflowHistory),
		reserved: make(map[string]struct{}),
		store:    store,
		pub:      pub,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start records a new in_progress row. The row only becomes visible once the
// store accepted it, so a failed insert leaves nothing behind to finalize.
func (h *History) Start(ctx context.Context, serviceID, problem string) (models.WorkflowHistory, error) {
	w := models.WorkflowHistory{
		ID:                "wf-" + uuid.NewString(),
		ProblemIdentified: problem,
		CommandsExecuted:  []string{},
		ResolutionStatus:  models.ResolutionInProgress,
		StartedAt:         h.now(),
	}
	if serviceID != "" {
		w.ServiceID = &serviceID
	}
	if h.store != nil {
		if err := h.store.InsertWorkflow(ctx, &w); err != nil {
			return models.WorkflowHistory{}, fmt.Errorf("inserting workflow: %w", err)
		}
	}

	h.mu.Lock()
	cp := w.Clone()
	h.rows[w.ID] = &cp
	h.order = append(h.order, w.ID)
	h.mu.Unlock()

	h.pub.Publish(feed.KindWorkflow, w.Clone())
	return w, nil
}

// Finish moves id to status with the given commands and stamps CompletedAt.
// The in-memory row is terminal even if the write-through fails; that error
// is returned for logging.
func (h *History) Finish(ctx context.Context, id string, status models.ResolutionStatus, commands []string) (models.WorkflowHistory, error) {
	if !status.Terminal() {
		return models.WorkflowHistory{}, fmt.Errorf("finishing workflow %s with non-terminal status %q", id, status)
	}

	h.mu.Lock()
	row, ok := h.rows[id]
	if !ok {
		h.mu.Unlock()
		return models.WorkflowHistory{}, ErrUnknownWorkflow
	}
	if row.ResolutionStatus.Terminal() {
		h.mu.Unlock()
		return models.WorkflowHistory{}, ErrTerminal
	}
	done := h.now()
	row.ResolutionStatus = status
	row.CommandsExecuted = append([]string{}, commands...)
	row.CompletedAt = &done
	out := row.Clone()
	h.mu.Unlock()

	h.pub.Publish(feed.KindWorkflow, out.Clone())

	if h.store != nil {
		persisted := out.Clone()
		if err := h.store.UpdateWorkflow(ctx, &persisted); err != nil {
			return out, fmt.Errorf("updating workflow %s: %w", id, err)
		}
	}
	return out, nil
}

// Import records a row produced elsewhere (for example by an external
// automation reporting its own run). Terminal rows must carry CompletedAt.
func (h *History) Import(ctx context.Context, w models.WorkflowHistory) (models.WorkflowHistory, error) {
	if w.ID == "" {
		w.ID = "wf-" + uuid.NewString()
	}
	if w.ResolutionStatus == "" {
		w.ResolutionStatus = models.ResolutionInProgress
	}
	if w.StartedAt.IsZero() {
		w.StartedAt = h.now()
	}
	if w.CommandsExecuted == nil {
		w.CommandsExecuted = []string{}
	}
	switch {
	case w.ResolutionStatus.Terminal() && w.CompletedAt == nil:
		done := h.now()
		w.CompletedAt = &done
	case w.ResolutionStatus == models.ResolutionInProgress:
		w.CompletedAt = nil
	case !w.ResolutionStatus.Terminal():
		return models.WorkflowHistory{}, fmt.Errorf("%w: unknown resolution status %q", ErrInvalidWorkflow, w.ResolutionStatus)
	}

	h.mu.Lock()
	_, dup := h.rows[w.ID]
	_, busy := h.reserved[w.ID]
	if dup || busy {
		h.mu.Unlock()
		return models.WorkflowHistory{}, fmt.Errorf("%w: %s", ErrDuplicateWorkflow, w.ID)
	}
	h.reserved[w.ID] = struct{}{}
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.InsertWorkflow(ctx, &w); err != nil {
			h.mu.Lock()
			delete(h.reserved, w.ID)
			h.mu.Unlock()
			return models.WorkflowHistory{}, fmt.Errorf("inserting workflow: %w", err)
		}
	}
	h.mu.Lock()
	delete(h.reserved, w.ID)
	cp := w.Clone()
	h.rows[w.ID] = &cp
	h.order = append(h.order, w.ID)
	h.mu.Unlock()
	h.pub.Publish(feed.KindWorkflow, w.Clone())
	return w, nil
}

// Get returns a copy of one row.
func (h *History) Get(id string) (models.WorkflowHistory, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	row, ok := h.rows[id]
	if !ok {
		return models.WorkflowHistory{}, false
	}
	return row.Clone(), true
}

// List returns up to limit rows, most recently started first.
func (h *History) List(limit int) []models.WorkflowHistory {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.WorkflowHistory, 0, n)
	for i := len(h.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.rows[h.order[i]].Clone())
	}
	return out
}

// Load replaces the ledger with rows read from the store.
func (h *History) Load(rows []models.WorkflowHistory) {
	sorted := make([]models.WorkflowHistory, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartedAt.Before(sorted[j].StartedAt) })

	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = make(map[string]*models.WorkflowHistory, len(sorted))
	h.order = h.order[:0]
	for i := range sorted {
		w := sorted[i].Clone()
		if _, dup := h.rows[w.ID]; dup {
			continue
		}
		h.rows[w.ID] = &w
		h.order = append(h.order, w.ID)
	}
}

// Dangling returns the ids of rows still in_progress. After a restart these
// belong to workflows whose process died before finalizing.
func (h *History) Dangling() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []string
	for _, id := range h.order {
		if h.rows[id].ResolutionStatus == models.ResolutionInProgress {
			ids = append(ids, id)
		}
	}
	return ids
}
