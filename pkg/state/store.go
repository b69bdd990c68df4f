package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
)

// Store owns the workflow state document and its on-disk copy. It is the
// single writer of the state file; all mutations flow through Apply, which
// merges an RFC 7386 patch, stamps last_updated_at, and persists atomically.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	state    *WorkflowState
	onChange []func(*WorkflowState)

	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// NewStore constructs a store with fresh default state. The state file is
// not written until the first mutation.
func NewStore(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger.With("component", "state_store"),
		now:    time.Now,
	}
	s.state = NewWorkflowState(s.now())
	return s
}

// Restore loads, parses, and schema-validates the state file at path.
// Failures carry a distinct kind: NotFound, InvalidJson, or InvalidSchema.
// A file that fails validation is left on disk untouched for inspection.
func Restore(path string, logger *slog.Logger) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewStateError(KindNotFound, path, err)
		}
		return nil, fmt.Errorf("reading state file %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, NewStateError(KindInvalidJson, path, err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, NewStateError(KindInvalidSchema, path, err)
	}

	var ws WorkflowState
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, NewStateError(KindInvalidJson, path, err)
	}
	if ws.PendingQuestions == nil {
		ws.PendingQuestions = map[string]Question{}
	}
	if ws.Phases == nil {
		ws.Phases = []Phase{}
	}
	if ws.ErrorHistory == nil {
		ws.ErrorHistory = []ErrorRecord{}
	}

	s := &Store{
		path:   path,
		logger: logger.With("component", "state_store"),
		state:  &ws,
		now:    time.Now,
	}
	s.logger.Info("state restored",
		"path", path,
		"status", ws.Status,
		"current_phase", ws.CurrentPhase,
		"current_step", ws.CurrentStep,
		"pending_questions", len(ws.PendingQuestions))
	return s, nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// OnChange registers a callback invoked with a snapshot after every
// successful Apply. Callbacks run with the store lock held, in registration
// order, and must not call back into the store.
func (s *Store) OnChange(fn func(*WorkflowState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Apply merges patch into the current document, stamps last_updated_at, and
// persists the result atomically. Concurrent calls are serialized. The patch
// follows RFC 7386: object fields merge recursively, nulls delete keys, and
// arrays are replaced wholesale.
func (s *Store) Apply(patch any) (*WorkflowState, error) {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshaling state patch: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(patchJSON)
}

func (s *Store) applyLocked(patchJSON []byte) (*WorkflowState, error) {
	currentJSON, err := json.Marshal(s.state)
	if err != nil {
		return nil, fmt.Errorf("marshaling current state: %w", err)
	}
	mergedJSON, err := jsonpatch.MergePatch(currentJSON, patchJSON)
	if err != nil {
		return nil, fmt.Errorf("merging state patch: %w", err)
	}

	var next WorkflowState
	if err := json.Unmarshal(mergedJSON, &next); err != nil {
		return nil, fmt.Errorf("unmarshaling merged state: %w", err)
	}
	if next.PendingQuestions == nil {
		next.PendingQuestions = map[string]Question{}
	}

	// last_updated_at never moves backward, even across a clock step.
	now := s.now().UTC()
	if now.Before(s.state.LastUpdatedAt) {
		now = s.state.LastUpdatedAt
	}
	next.LastUpdatedAt = now

	s.state = &next
	if err := fsutil.WriteJSONAtomic(s.path, s.state); err != nil {
		return nil, fmt.Errorf("persisting state: %w", err)
	}

	snap := s.state.Clone()
	for _, fn := range s.onChange {
		fn(snap)
	}
	return snap, nil
}

// applyMapLocked marshals the patch and applies it under the already-held
// lock. Used by read-modify-write mutators so the read and the merge are
// one atomic step.
func (s *Store) applyMapLocked(patch map[string]any) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshaling state patch: %w", err)
	}
	_, err = s.applyLocked(patchJSON)
	return err
}

// SetStatus updates the top-level workflow status.
func (s *Store) SetStatus(status Status) error {
	_, err := s.Apply(map[string]any{"status": status})
	return err
}

// SetCurrent records the phase/step position the orchestrator is executing.
func (s *Store) SetCurrent(phase int, step Step) error {
	_, err := s.Apply(map[string]any{
		"current_phase": phase,
		"current_step":  step,
	})
	return err
}

// SetPhases replaces the phase list wholesale.
func (s *Store) SetPhases(phases []Phase) error {
	_, err := s.Apply(map[string]any{"phases": phases})
	return err
}

// UpdatePhase replaces the record for phase.Number. Unknown numbers are
// appended, which covers phases inserted mid-run.
func (s *Store) UpdatePhase(phase Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	phases := make([]Phase, len(s.state.Phases))
	copy(phases, s.state.Phases)
	replaced := false
	for i := range phases {
		if phases[i].Number == phase.Number {
			phases[i] = phase
			replaced = true
			break
		}
	}
	if !replaced {
		phases = append(phases, phase)
	}
	return s.applyMapLocked(map[string]any{"phases": phases})
}

// AddPendingQuestion registers a pending question and moves the workflow to
// waiting_for_human in the same persisted write.
func (s *Store) AddPendingQuestion(q Question) error {
	_, err := s.Apply(map[string]any{
		"status":            StatusWaitingForHuman,
		"pending_questions": map[string]any{q.ID: q},
	})
	return err
}

// ResolveQuestion removes a pending question in a single persisted write.
// When it was the last one, the workflow status returns to running so that
// waiting_for_human holds exactly while questions are pending.
func (s *Store) ResolveQuestion(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.PendingQuestions[id]; !exists {
		return nil
	}
	patch := map[string]any{
		"pending_questions": map[string]any{id: nil},
	}
	if len(s.state.PendingQuestions) == 1 {
		patch["status"] = StatusRunning
	}
	return s.applyMapLocked(patch)
}

// AppendError appends a record to the error history.
func (s *Store) AppendError(rec ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append([]ErrorRecord(nil), s.state.ErrorHistory...)
	history = append(history, rec)
	return s.applyMapLocked(map[string]any{"error_history": history})
}

// SetTunnelURL records the externally reachable URL for respond links.
func (s *Store) SetTunnelURL(url string) error {
	_, err := s.Apply(map[string]any{"tunnel_url": url})
	return err
}
