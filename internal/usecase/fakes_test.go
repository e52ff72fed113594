package usecase

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

type fakeVideos struct {
	mu        sync.Mutex
	videos    map[string]domain.Video
	createErr error
	deleted   []string
}

func newFakeVideos() *fakeVideos { return &fakeVideos{videos: map[string]domain.Video{}} }

func (f *fakeVideos) Create(_ domain.Context, v domain.Video) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.videos[v.ID] = v
	return nil
}

func (f *fakeVideos) Get(_ domain.Context, id string) (domain.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.videos[id]
	if !ok {
		return domain.Video{}, domain.ErrNotFound
	}
	return v, nil
}

func (f *fakeVideos) Delete(_ domain.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.videos, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeJobs struct {
	mu           sync.Mutex
	jobs         map[string]domain.AnalysisJob
	risks        map[string][]domain.RiskItem
	phaseResults map[domain.Phase][]byte
	createErr    error
	completeErr  error
	replaceErr   error
	deleted      []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs:         map[string]domain.AnalysisJob{},
		risks:        map[string][]domain.RiskItem{},
		phaseResults: map[domain.Phase][]byte{},
	}
}

func (f *fakeJobs) Create(_ domain.Context, j domain.AnalysisJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.jobs[j.ID] = j
	return nil
}

func (f *fakeJobs) Get(_ domain.Context, id string) (domain.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.AnalysisJob{}, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) List(_ domain.Context, offset, limit int) ([]domain.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AnalysisJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeJobs) ListByStatus(_ domain.Context, status domain.JobStatus, _, _ int) ([]domain.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AnalysisJob
	for _, j := range f.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) MarkProcessing(_ domain.Context, id string) error {
	return f.mutate(id, func(j *domain.AnalysisJob) {
		j.Status = domain.JobProcessing
	})
}

func (f *fakeJobs) Complete(_ domain.Context, id string, score float64, level domain.RiskLevel) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	now := time.Now().UTC()
	return f.mutate(id, func(j *domain.AnalysisJob) {
		j.Status = domain.JobCompleted
		j.OverallScore = &score
		j.RiskLevel = &level
		j.CompletedAt = &now
	})
}

func (f *fakeJobs) Fail(_ domain.Context, id string, msg string) error {
	now := time.Now().UTC()
	return f.mutate(id, func(j *domain.AnalysisJob) {
		j.Status = domain.JobFailed
		j.ErrorMessage = msg
		j.CompletedAt = &now
	})
}

func (f *fakeJobs) SetPhaseResult(_ domain.Context, id string, phase domain.Phase, result []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	f.phaseResults[phase] = result
	return nil
}

func (f *fakeJobs) ReplaceRiskItems(_ domain.Context, jobID string, items []domain.RiskItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.risks[jobID] = items
	return nil
}

func (f *fakeJobs) ListRiskItems(_ domain.Context, jobID string) ([]domain.RiskItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.risks[jobID], nil
}

func (f *fakeJobs) ListFinishedBefore(_ domain.Context, cutoff time.Time, limit int) ([]domain.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AnalysisJob
	for _, j := range f.jobs {
		if j.Status.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeJobs) Delete(_ domain.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeJobs) mutate(id string, fn func(*domain.AnalysisJob)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&j)
	j.UpdatedAt = time.Now().UTC()
	f.jobs[id] = j
	return nil
}

type progressUpdate struct {
	Phase    domain.Phase
	Status   domain.PhaseStatus
	Progress float64
}

type fakeProgress struct {
	mu            sync.Mutex
	inits         []string
	updates       map[string][]progressUpdate
	completed     []string
	failed        map[string]string
	deleted       []string
	exportInits   []string
	exportUpdates map[string][]float64
	exportDone    []string
	exportFailed  map[string]string
	exportDocs    map[string]*domain.ExportProgress
	snapshots     map[string]*domain.ProgressSnapshot
	initErr       error
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{
		updates:       map[string][]progressUpdate{},
		failed:        map[string]string{},
		exportUpdates: map[string][]float64{},
		exportFailed:  map[string]string{},
		exportDocs:    map[string]*domain.ExportProgress{},
		snapshots:     map[string]*domain.ProgressSnapshot{},
	}
}

func (f *fakeProgress) Init(_ domain.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.inits = append(f.inits, jobID)
	return nil
}

func (f *fakeProgress) Update(_ domain.Context, jobID string, phase domain.Phase, status domain.PhaseStatus, progress float64) (domain.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[jobID] = append(f.updates[jobID], progressUpdate{Phase: phase, Status: status, Progress: progress})
	return domain.NewPendingSnapshot(jobID), nil
}

func (f *fakeProgress) Complete(_ domain.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeProgress) Fail(_ domain.Context, jobID string, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = msg
	return nil
}

func (f *fakeProgress) Get(_ domain.Context, jobID string) (*domain.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[jobID], nil
}

func (f *fakeProgress) Delete(_ domain.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, jobID)
	f.deleted = append(f.deleted, jobID)
	return nil
}

func (f *fakeProgress) InitExport(_ domain.Context, exportID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportInits = append(f.exportInits, exportID)
	return nil
}

func (f *fakeProgress) UpdateExport(_ domain.Context, exportID string, _ domain.ExportStatus, progress float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportUpdates[exportID] = append(f.exportUpdates[exportID], progress)
	return nil
}

func (f *fakeProgress) CompleteExport(_ domain.Context, exportID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportDone = append(f.exportDone, exportID)
	return nil
}

func (f *fakeProgress) FailExport(_ domain.Context, exportID string, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportFailed[exportID] = msg
	return nil
}

func (f *fakeProgress) GetExport(_ domain.Context, exportID string) (*domain.ExportProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exportDocs[exportID], nil
}

func (f *fakeProgress) DeleteExport(_ domain.Context, exportID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.exportDocs, exportID)
	return nil
}

type fakeQueue struct {
	mu               sync.Mutex
	analysisTasks    []string
	exportTasks      []string
	enqueueAnalysis  error
	enqueueExportErr error
}

func (f *fakeQueue) EnqueueAnalysis(_ domain.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueAnalysis != nil {
		return f.enqueueAnalysis
	}
	f.analysisTasks = append(f.analysisTasks, jobID)
	return nil
}

func (f *fakeQueue) EnqueueExport(_ domain.Context, exportID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueExportErr != nil {
		return f.enqueueExportErr
	}
	f.exportTasks = append(f.exportTasks, exportID)
	return nil
}

type fakeBlob struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putErr   error
	removed  []string
	prefixes []string
	presign  string
}

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: map[string][]byte{}} }

func (f *fakeBlob) Put(_ domain.Context, key string, r io.Reader, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = b
	return nil
}

func (f *fakeBlob) Get(_ domain.Context, key string) (io.ReadCloser, domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, domain.BlobInfo{}, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), domain.BlobInfo{Size: int64(len(b)), ContentType: "video/mp4"}, nil
}

func (f *fakeBlob) Download(_ domain.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return domain.ErrNotFound
	}
	return os.WriteFile(localPath, b, 0o600)
}

func (f *fakeBlob) Remove(_ domain.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeBlob) RemovePrefix(_ domain.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(f.objects, k)
		}
	}
	return nil
}

func (f *fakeBlob) PresignGet(_ domain.Context, key string, _ time.Duration) (string, error) {
	if f.presign != "" {
		return f.presign, nil
	}
	return "https://blob.test/" + key, nil
}

func (f *fakeBlob) Ping(domain.Context) error { return nil }

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.EditSession
	actions  map[string][]domain.EditAction
	statuses []domain.SessionStatus
	diffErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: map[string]domain.EditSession{},
		actions:  map[string][]domain.EditAction{},
	}
}

func (f *fakeSessions) GetByJobID(_ domain.Context, jobID string) (domain.EditSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.JobID == jobID {
			return s, nil
		}
	}
	return domain.EditSession{}, domain.ErrNotFound
}

func (f *fakeSessions) Get(_ domain.Context, id string) (domain.EditSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return domain.EditSession{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) Create(_ domain.Context, s domain.EditSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.JobID == s.JobID {
			return domain.ErrConflict
		}
	}
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) UpdateStatus(_ domain.Context, id string, status domain.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	f.sessions[id] = s
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeSessions) ListActions(_ domain.Context, sessionID string) ([]domain.EditAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions[sessionID], nil
}

func (f *fakeSessions) ApplyActionDiff(_ domain.Context, sessionID string, upserts []domain.EditAction, deleteIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.diffErr != nil {
		return f.diffErr
	}
	byID := map[string]domain.EditAction{}
	for _, a := range f.actions[sessionID] {
		byID[a.ID] = a
	}
	for _, a := range upserts {
		byID[a.ID] = a
	}
	for _, id := range deleteIDs {
		delete(byID, id)
	}
	next := make([]domain.EditAction, 0, len(byID))
	for _, a := range byID {
		next = append(next, a)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].StartSec < next[j].StartSec })
	f.actions[sessionID] = next
	return nil
}

type fakeExports struct {
	mu      sync.Mutex
	exports map[string]domain.ExportJob
	order   []string
}

func newFakeExports() *fakeExports { return &fakeExports{exports: map[string]domain.ExportJob{}} }

func (f *fakeExports) Create(_ domain.Context, e domain.ExportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports[e.ID] = e
	f.order = append(f.order, e.ID)
	return nil
}

func (f *fakeExports) Get(_ domain.Context, id string) (domain.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exports[id]
	if !ok {
		return domain.ExportJob{}, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeExports) Latest(_ domain.Context, sessionID string) (domain.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.order) - 1; i >= 0; i-- {
		if e := f.exports[f.order[i]]; e.SessionID == sessionID {
			return e, nil
		}
	}
	return domain.ExportJob{}, domain.ErrNotFound
}

func (f *fakeExports) LatestCompleted(_ domain.Context, sessionID string) (domain.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.order) - 1; i >= 0; i-- {
		if e := f.exports[f.order[i]]; e.SessionID == sessionID && e.Status == domain.ExportCompleted {
			return e, nil
		}
	}
	return domain.ExportJob{}, domain.ErrNotFound
}

func (f *fakeExports) MarkProcessing(_ domain.Context, id string) error {
	return f.mutate(id, func(e *domain.ExportJob) { e.Status = domain.ExportProcessing })
}

func (f *fakeExports) Complete(_ domain.Context, id string, outputBlobPath string) error {
	now := time.Now().UTC()
	return f.mutate(id, func(e *domain.ExportJob) {
		e.Status = domain.ExportCompleted
		e.OutputBlobPath = &outputBlobPath
		e.CompletedAt = &now
	})
}

func (f *fakeExports) Fail(_ domain.Context, id string, msg string) error {
	now := time.Now().UTC()
	return f.mutate(id, func(e *domain.ExportJob) {
		e.Status = domain.ExportFailed
		e.ErrorMessage = msg
		e.CompletedAt = &now
	})
}

func (f *fakeExports) mutate(id string, fn func(*domain.ExportJob)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exports[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&e)
	f.exports[id] = e
	return nil
}

type fakeMedia struct {
	hasAudio   bool
	extractErr error
	probe      MediaInfo
	probeErr   error
	renderErr  error
	rendered   []RenderSpec
}

func (f *fakeMedia) ExtractAudio(_ domain.Context, _, outputPath string) (bool, error) {
	if f.extractErr != nil {
		return false, f.extractErr
	}
	if f.hasAudio {
		if err := os.WriteFile(outputPath, []byte("wav"), 0o600); err != nil {
			return false, err
		}
	}
	return f.hasAudio, nil
}

func (f *fakeMedia) Probe(domain.Context, string) (MediaInfo, error) {
	return f.probe, f.probeErr
}

func (f *fakeMedia) Render(_ domain.Context, spec RenderSpec) error {
	f.rendered = append(f.rendered, spec)
	if f.renderErr != nil {
		return f.renderErr
	}
	if spec.OnProgress != nil {
		spec.OnProgress(50)
		spec.OnProgress(100)
	}
	return os.WriteFile(spec.OutputPath, []byte("rendered"), 0o600)
}

type fakeSpeech struct {
	out *domain.Transcript
	err error
}

func (f *fakeSpeech) Transcribe(domain.Context, string) (*domain.Transcript, error) {
	return f.out, f.err
}

type fakeOCR struct {
	out *domain.OCRTextResult
	err error
}

func (f *fakeOCR) DetectText(domain.Context, string) (*domain.OCRTextResult, error) {
	return f.out, f.err
}

type fakeVision struct {
	out *domain.VisionResult
	err error
}

func (f *fakeVision) Annotate(domain.Context, string) (*domain.VisionResult, error) {
	return f.out, f.err
}

type fakeReasoner struct {
	out  domain.RiskAssessment
	err  error
	seen []domain.EvaluationInput
}

func (f *fakeReasoner) Evaluate(_ domain.Context, in domain.EvaluationInput) (domain.RiskAssessment, error) {
	f.seen = append(f.seen, in)
	if f.err != nil {
		return domain.RiskAssessment{}, f.err
	}
	return f.out, nil
}

var errBoom = fmt.Errorf("boom")
