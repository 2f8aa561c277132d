package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bjpl/deploycheck/internal/check"
)

var ErrRunNotFound = errors.New("run not found")

// Store persists runs, their event timelines, and the audit trail.
type Store interface {
	CreateRun(meta RunMeta) error
	UpdateRun(runID string, mutate func(meta *RunMeta)) (RunMeta, error)
	GetRun(runID string) (RunMeta, error)
	ListRuns(limit, offset int) ([]RunMeta, error)
	ListRunsByCreator(creatorType, creatorSub string, limit int) ([]RunMeta, error)
	AppendRunEvent(runID, stage, message string, data map[string]any) (RunEvent, error)
	ListRunEvents(runID string, afterSeq int64) ([]RunEvent, error)
	AppendAudit(event AuditEvent) error
	ListAudit(limit int) ([]AuditEvent, error)
	GetMetricsOverview() (MetricsOverview, error)
}

// MemoryFileStore keeps everything in memory and snapshots to a JSON file on
// every write. Good enough for single-node deployments and tests; PgStore is
// the production path.
type MemoryFileStore struct {
	mu       sync.Mutex
	path     string
	runs     map[string]RunMeta
	events   map[string][]RunEvent
	eventSeq map[string]int64
	audit    []AuditEvent
}

type memorySnapshot struct {
	Runs     map[string]RunMeta    `json:"runs"`
	Events   map[string][]RunEvent `json:"events"`
	EventSeq map[string]int64      `json:"event_seq"`
	Audit    []AuditEvent          `json:"audit"`
}

func NewMemoryFileStore(path string) (*MemoryFileStore, error) {
	store := &MemoryFileStore{
		path:     path,
		runs:     map[string]RunMeta{},
		events:   map[string][]RunEvent{},
		eventSeq: map[string]int64{},
	}
	if path == "" {
		return store, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("read store snapshot: %w", err)
	}
	var snapshot memorySnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode store snapshot: %w", err)
	}
	if snapshot.Runs != nil {
		store.runs = snapshot.Runs
	}
	if snapshot.Events != nil {
		store.events = snapshot.Events
	}
	if snapshot.EventSeq != nil {
		store.eventSeq = snapshot.EventSeq
	}
	store.audit = snapshot.Audit
	return store, nil
}

func (s *MemoryFileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	snapshot := memorySnapshot{
		Runs:     s.runs,
		Events:   s.events,
		EventSeq: s.eventSeq,
		Audit:    s.audit,
	}
	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *MemoryFileStore) CreateRun(meta RunMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[meta.RunID]; exists {
		return fmt.Errorf("run %s already exists", meta.RunID)
	}
	s.runs[meta.RunID] = meta
	return s.persistLocked()
}

func (s *MemoryFileStore) UpdateRun(runID string, mutate func(meta *RunMeta)) (RunMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.runs[runID]
	if !ok {
		return RunMeta{}, ErrRunNotFound
	}
	mutate(&meta)
	meta.RunID = runID
	s.runs[runID] = meta
	if err := s.persistLocked(); err != nil {
		return RunMeta{}, err
	}
	return meta, nil
}

func (s *MemoryFileStore) GetRun(runID string) (RunMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.runs[runID]
	if !ok {
		return RunMeta{}, ErrRunNotFound
	}
	return meta, nil
}

func (s *MemoryFileStore) ListRuns(limit, offset int) ([]RunMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]RunMeta, 0, len(s.runs))
	for _, meta := range s.runs {
		all = append(all, meta)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt > all[j].CreatedAt })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryFileStore) ListRunsByCreator(creatorType, creatorSub string, limit int) ([]RunMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RunMeta
	for _, meta := range s.runs {
		if meta.CreatorType == creatorType && meta.CreatorSub == creatorSub {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryFileStore) AppendRunEvent(runID, stage, message string, data map[string]any) (RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return RunEvent{}, ErrRunNotFound
	}
	s.eventSeq[runID]++
	event := RunEvent{
		Seq:       s.eventSeq[runID],
		Timestamp: nowRFC3339(),
		Stage:     stage,
		Message:   message,
		Data:      data,
	}
	s.events[runID] = append(s.events[runID], event)
	if err := s.persistLocked(); err != nil {
		return RunEvent{}, err
	}
	return event, nil
}

func (s *MemoryFileStore) ListRunEvents(runID string, afterSeq int64) ([]RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, ErrRunNotFound
	}
	var out []RunEvent
	for _, event := range s.events[runID] {
		if event.Seq > afterSeq {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *MemoryFileStore) AppendAudit(event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, event)
	return s.persistLocked()
}

func (s *MemoryFileStore) ListAudit(limit int) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, len(s.audit))
	copy(out, s.audit)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryFileStore) GetMetricsOverview() (MetricsOverview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	overview := MetricsOverview{GeneratedAt: nowRFC3339()}
	var durationSum, scoreSum float64
	var durationCount, scoreCount int
	for _, meta := range s.runs {
		overview.TotalRuns++
		switch meta.Status {
		case "queued", "running":
			overview.RunningRuns++
		case "ready", "ready_with_warnings":
			overview.ReadyRuns++
		case "blocked":
			overview.BlockedRuns++
		}
		if meta.Report == nil {
			continue
		}
		durationSum += float64(meta.Report.DurationMS)
		durationCount++
		scoreSum += meta.Report.Summary.OverallScore
		scoreCount++
		for _, issue := range meta.Report.Summary.CriticalIssues {
			if issue.Severity == check.SeverityCritical {
				overview.CriticalIssues++
			}
		}
	}
	if durationCount > 0 {
		overview.AverageDuration = int64(durationSum / float64(durationCount))
	}
	if scoreCount > 0 {
		overview.AverageScore = scoreSum / float64(scoreCount)
	}
	return overview, nil
}
