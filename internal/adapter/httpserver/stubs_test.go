package httpserver

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// In-memory port implementations backing the handler tests.

type stubVideos struct {
	mu     sync.Mutex
	videos map[string]domain.Video
}

func newStubVideos() *stubVideos { return &stubVideos{videos: map[string]domain.Video{}} }

func (s *stubVideos) Create(_ domain.Context, v domain.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[v.ID] = v
	return nil
}

func (s *stubVideos) Get(_ domain.Context, id string) (domain.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return domain.Video{}, fmt.Errorf("video %s: %w", id, domain.ErrNotFound)
	}
	return v, nil
}

func (s *stubVideos) Delete(_ domain.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.videos, id)
	return nil
}

type stubJobs struct {
	mu    sync.Mutex
	order []string
	jobs  map[string]domain.AnalysisJob
	risks map[string][]domain.RiskItem
}

func newStubJobs() *stubJobs {
	return &stubJobs{jobs: map[string]domain.AnalysisJob{}, risks: map[string][]domain.RiskItem{}}
}

func (s *stubJobs) put(j domain.AnalysisJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		s.order = append(s.order, j.ID)
	}
	s.jobs[j.ID] = j
}

func (s *stubJobs) Create(_ domain.Context, j domain.AnalysisJob) error {
	s.put(j)
	return nil
}

func (s *stubJobs) Get(_ domain.Context, id string) (domain.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.AnalysisJob{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return j, nil
}

func (s *stubJobs) List(_ domain.Context, offset, limit int) ([]domain.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AnalysisJob, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.jobs[s.order[i]])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubJobs) ListByStatus(_ domain.Context, status domain.JobStatus, _, _ int) ([]domain.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AnalysisJob
	for _, id := range s.order {
		if s.jobs[id].Status == status {
			out = append(out, s.jobs[id])
		}
	}
	return out, nil
}

func (s *stubJobs) MarkProcessing(_ domain.Context, id string) error {
	return s.mutate(id, func(j *domain.AnalysisJob) { j.Status = domain.JobProcessing })
}

func (s *stubJobs) Complete(_ domain.Context, id string, score float64, level domain.RiskLevel) error {
	return s.mutate(id, func(j *domain.AnalysisJob) {
		now := time.Now().UTC()
		j.Status = domain.JobCompleted
		j.OverallScore = &score
		j.RiskLevel = &level
		j.CompletedAt = &now
	})
}

func (s *stubJobs) Fail(_ domain.Context, id string, errMsg string) error {
	return s.mutate(id, func(j *domain.AnalysisJob) {
		now := time.Now().UTC()
		j.Status = domain.JobFailed
		j.ErrorMessage = errMsg
		j.CompletedAt = &now
	})
}

func (s *stubJobs) SetPhaseResult(_ domain.Context, _ string, _ domain.Phase, _ []byte) error {
	return nil
}

func (s *stubJobs) ReplaceRiskItems(_ domain.Context, jobID string, items []domain.RiskItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risks[jobID] = items
	return nil
}

func (s *stubJobs) ListRiskItems(_ domain.Context, jobID string) ([]domain.RiskItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.risks[jobID], nil
}

func (s *stubJobs) ListFinishedBefore(_ domain.Context, _ time.Time, _ int) ([]domain.AnalysisJob, error) {
	return nil, nil
}

func (s *stubJobs) Delete(_ domain.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *stubJobs) mutate(id string, fn func(*domain.AnalysisJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	fn(&j)
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return nil
}

type stubProgress struct {
	mu         sync.Mutex
	snapshots  map[string]*domain.ProgressSnapshot
	exportDocs map[string]*domain.ExportProgress
}

func newStubProgress() *stubProgress {
	return &stubProgress{
		snapshots:  map[string]*domain.ProgressSnapshot{},
		exportDocs: map[string]*domain.ExportProgress{},
	}
}

func (s *stubProgress) set(jobID string, snap domain.ProgressSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[jobID] = &snap
}

func (s *stubProgress) Init(_ domain.Context, jobID string) error {
	snap := domain.NewPendingSnapshot(jobID)
	s.set(jobID, snap)
	return nil
}

func (s *stubProgress) Update(_ domain.Context, jobID string, phase domain.Phase, status domain.PhaseStatus, progress float64) (domain.ProgressSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[jobID]
	if !ok {
		pending := domain.NewPendingSnapshot(jobID)
		snap = &pending
		s.snapshots[jobID] = snap
	}
	snap.Phases[phase] = domain.PhaseProgress{Status: status, Progress: progress}
	snap.Overall = domain.OverallProgress(snap.Phases, domain.PhaseWeights())
	snap.Status = domain.DeriveJobStatus(snap.Phases)
	return *snap, nil
}

func (s *stubProgress) Complete(_ domain.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.snapshots[jobID]; ok {
		snap.Status = domain.JobCompleted
		snap.Overall = 100
	}
	return nil
}

func (s *stubProgress) Fail(_ domain.Context, jobID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.snapshots[jobID]; ok {
		snap.Status = domain.JobFailed
		snap.Error = errMsg
	}
	return nil
}

func (s *stubProgress) Get(_ domain.Context, jobID string) (*domain.ProgressSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[jobID]
	if !ok {
		return nil, nil
	}
	cp := *snap
	cp.Phases = make(map[domain.Phase]domain.PhaseProgress, len(snap.Phases))
	for p, pp := range snap.Phases {
		cp.Phases[p] = pp
	}
	return &cp, nil
}

func (s *stubProgress) Delete(_ domain.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, jobID)
	return nil
}

func (s *stubProgress) InitExport(_ domain.Context, exportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportDocs[exportID] = &domain.ExportProgress{ExportID: exportID, Status: domain.ExportPending}
	return nil
}

func (s *stubProgress) UpdateExport(_ domain.Context, exportID string, status domain.ExportStatus, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportDocs[exportID] = &domain.ExportProgress{ExportID: exportID, Status: status, Progress: progress}
	return nil
}

func (s *stubProgress) CompleteExport(_ domain.Context, exportID string) error {
	return s.UpdateExport(nil, exportID, domain.ExportCompleted, 100)
}

func (s *stubProgress) FailExport(_ domain.Context, exportID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportDocs[exportID] = &domain.ExportProgress{ExportID: exportID, Status: domain.ExportFailed, Error: errMsg}
	return nil
}

func (s *stubProgress) GetExport(_ domain.Context, exportID string) (*domain.ExportProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.exportDocs[exportID]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (s *stubProgress) DeleteExport(_ domain.Context, exportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exportDocs, exportID)
	return nil
}

type stubBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newStubBlob() *stubBlob {
	return &stubBlob{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *stubBlob) Put(_ domain.Context, key string, r io.Reader, _ int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	s.types[key] = contentType
	return nil
}

func (s *stubBlob) Get(_ domain.Context, key string) (io.ReadCloser, domain.BlobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, domain.BlobInfo{}, fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), domain.BlobInfo{Size: int64(len(b)), ContentType: s.types[key]}, nil
}

func (s *stubBlob) Download(_ domain.Context, key, localPath string) error {
	s.mu.Lock()
	b, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
	}
	return os.WriteFile(localPath, b, 0o600)
}

func (s *stubBlob) Remove(_ domain.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *stubBlob) RemovePrefix(_ domain.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
		}
	}
	return nil
}

func (s *stubBlob) PresignGet(_ domain.Context, key string, _ time.Duration) (string, error) {
	return "https://blob.test/" + key, nil
}

func (s *stubBlob) Ping(_ domain.Context) error { return nil }

type stubQueue struct {
	mu            sync.Mutex
	analysisTasks []string
	exportTasks   []string
}

func (s *stubQueue) EnqueueAnalysis(_ domain.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysisTasks = append(s.analysisTasks, jobID)
	return nil
}

func (s *stubQueue) EnqueueExport(_ domain.Context, exportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportTasks = append(s.exportTasks, exportID)
	return nil
}

type stubSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.EditSession
	actions  map[string][]domain.EditAction
}

func newStubSessions() *stubSessions {
	return &stubSessions{sessions: map[string]domain.EditSession{}, actions: map[string][]domain.EditAction{}}
}

func (s *stubSessions) GetByJobID(_ domain.Context, jobID string) (domain.EditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.JobID == jobID {
			return sess, nil
		}
	}
	return domain.EditSession{}, fmt.Errorf("session for job %s: %w", jobID, domain.ErrNotFound)
}

func (s *stubSessions) Get(_ domain.Context, id string) (domain.EditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.EditSession{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return sess, nil
}

func (s *stubSessions) Create(_ domain.Context, sess domain.EditSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.JobID == sess.JobID {
			return fmt.Errorf("session for job %s exists: %w", sess.JobID, domain.ErrConflict)
		}
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *stubSessions) UpdateStatus(_ domain.Context, id string, status domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	sess.Status = status
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *stubSessions) ListActions(_ domain.Context, sessionID string) ([]domain.EditAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EditAction(nil), s.actions[sessionID]...), nil
}

func (s *stubSessions) ApplyActionDiff(_ domain.Context, sessionID string, upserts []domain.EditAction, deleteIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := map[string]domain.EditAction{}
	for _, a := range s.actions[sessionID] {
		byID[a.ID] = a
	}
	for _, id := range deleteIDs {
		delete(byID, id)
	}
	for _, a := range upserts {
		byID[a.ID] = a
	}
	merged := make([]domain.EditAction, 0, len(byID))
	for _, a := range byID {
		merged = append(merged, a)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].StartSec < merged[j].StartSec })
	s.actions[sessionID] = merged
	if sess, ok := s.sessions[sessionID]; ok {
		sess.UpdatedAt = time.Now().UTC()
		s.sessions[sessionID] = sess
	}
	return nil
}

type stubExports struct {
	mu      sync.Mutex
	order   []string
	exports map[string]domain.ExportJob
}

func newStubExports() *stubExports { return &stubExports{exports: map[string]domain.ExportJob{}} }

func (s *stubExports) Create(_ domain.Context, e domain.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, e.ID)
	s.exports[e.ID] = e
	return nil
}

func (s *stubExports) Get(_ domain.Context, id string) (domain.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exports[id]
	if !ok {
		return domain.ExportJob{}, fmt.Errorf("export %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func (s *stubExports) Latest(_ domain.Context, sessionID string) (domain.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.exports[s.order[i]]
		if e.SessionID == sessionID {
			return e, nil
		}
	}
	return domain.ExportJob{}, fmt.Errorf("no export for session %s: %w", sessionID, domain.ErrNotFound)
}

func (s *stubExports) LatestCompleted(_ domain.Context, sessionID string) (domain.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.exports[s.order[i]]
		if e.SessionID == sessionID && e.Status == domain.ExportCompleted {
			return e, nil
		}
	}
	return domain.ExportJob{}, fmt.Errorf("no completed export for session %s: %w", sessionID, domain.ErrNotFound)
}

func (s *stubExports) MarkProcessing(_ domain.Context, id string) error {
	return s.mutate(id, func(e *domain.ExportJob) { e.Status = domain.ExportProcessing })
}

func (s *stubExports) Complete(_ domain.Context, id string, outputBlobPath string) error {
	return s.mutate(id, func(e *domain.ExportJob) {
		now := time.Now().UTC()
		e.Status = domain.ExportCompleted
		e.OutputBlobPath = &outputBlobPath
		e.CompletedAt = &now
	})
}

func (s *stubExports) Fail(_ domain.Context, id string, errMsg string) error {
	return s.mutate(id, func(e *domain.ExportJob) {
		now := time.Now().UTC()
		e.Status = domain.ExportFailed
		e.ErrorMessage = errMsg
		e.CompletedAt = &now
	})
}

func (s *stubExports) mutate(id string, fn func(*domain.ExportJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exports[id]
	if !ok {
		return fmt.Errorf("export %s: %w", id, domain.ErrNotFound)
	}
	fn(&e)
	s.exports[id] = e
	return nil
}
