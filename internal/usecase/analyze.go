package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/observability"
	"github.com/univac-1/risk-analyzer/internal/service/filtergraph"
)

// MediaInfo is the probed shape of a local media file.
type MediaInfo struct {
	DurationSec float64
	TotalFrames int64
	Width       int
	Height      int
	HasAudio    bool
}

// RenderSpec describes one filter-graph render of a local file.
type RenderSpec struct {
	InputPath   string
	OutputPath  string
	Graph       filtergraph.Graph
	TotalFrames int64
	DurationSec float64
	// OnProgress receives percentages in [0,100]. May be nil.
	OnProgress func(pct float64)
}

// MediaProcessor is the application port onto ffmpeg/ffprobe.
type MediaProcessor interface {
	// ExtractAudio writes a transcription-ready WAV; a silent source
	// returns (false, nil).
	ExtractAudio(ctx domain.Context, inputPath, outputPath string) (bool, error)
	Probe(ctx domain.Context, path string) (MediaInfo, error)
	Render(ctx domain.Context, spec RenderSpec) error
}

// AnalyzeService runs the three perceptual phases in parallel and fuses
// their output into the final risk assessment.
type AnalyzeService struct {
	Jobs     domain.JobRepository
	Videos   domain.VideoRepository
	Blob     domain.BlobStore
	Progress domain.ProgressStore
	Speech   domain.SpeechAnalyzer
	OCR      domain.OCRAnalyzer
	Vision   domain.VisionAnalyzer
	Reasoner domain.RiskReasoner
	Media    MediaProcessor

	ScratchDir          string
	AudioExtractTimeout time.Duration
	AnnotateTimeout     time.Duration
}

// phaseOutcome carries one perceptual phase's result across the fan-out.
type phaseOutcome struct {
	doc any
	err error
}

// Analyze drives one job end to end. Redelivery of a terminal job is a
// no-op. A single phase failure degrades the evaluation input; the job
// fails only when every phase failed or the risk fusion cannot run.
func (s AnalyzeService) Analyze(ctx domain.Context, jobID string) (domain.AnalysisSummary, error) {
	tracer := otel.Tracer("usecase.analyze")
	ctx, span := tracer.Start(ctx, "analyze.Run")
	defer span.End()
	lg := observability.LoggerFromContext(ctx).With(slog.String("job_id", jobID))
	ctx = observability.ContextWithLogger(ctx, lg)

	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.AnalysisSummary{}, err
	}
	if job.Status.Terminal() {
		lg.Info("job already terminal, skipping", slog.String("status", string(job.Status)))
		return summaryOf(job), nil
	}

	if err := s.Jobs.MarkProcessing(ctx, jobID); err != nil {
		return domain.AnalysisSummary{}, err
	}
	if err := s.Progress.Init(ctx, jobID); err != nil {
		lg.Warn("progress init failed", slog.Any("error", err))
	}

	video, err := s.Videos.Get(ctx, job.VideoID)
	if err != nil {
		return domain.AnalysisSummary{}, s.failJob(ctx, jobID, "source video missing", err)
	}

	workDir, err := os.MkdirTemp(s.ScratchDir, "analysis-")
	if err != nil {
		return domain.AnalysisSummary{}, fmt.Errorf("op=analyze: scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, "source.mp4")
	if err := s.Blob.Download(ctx, video.BlobPath, localPath); err != nil {
		return domain.AnalysisSummary{}, fmt.Errorf("op=analyze: download: %w", err)
	}

	info, err := s.Media.Probe(ctx, localPath)
	if err != nil {
		lg.Warn("probe failed, continuing without media info", slog.Any("error", err))
	}
	durationSec := info.DurationSec
	if durationSec == 0 && video.DurationSec != nil {
		durationSec = *video.DurationSec
	}

	outcomes := s.runPerceptualPhases(ctx, jobID, localPath, workDir)

	transcript, _ := outcomes[domain.PhaseAudio].doc.(*domain.Transcript)
	ocrResult, _ := outcomes[domain.PhaseOCR].doc.(*domain.OCRTextResult)
	visionResult, _ := outcomes[domain.PhaseVideo].doc.(*domain.VisionResult)

	if transcript == nil && ocrResult == nil && visionResult == nil {
		return domain.AnalysisSummary{}, s.failJob(ctx, jobID, "all analysis phases failed", nil)
	}

	if _, err := s.Progress.Update(ctx, jobID, domain.PhaseRisk, domain.PhaseProcessing, 10); err != nil {
		lg.Warn("progress update failed", slog.Any("error", err))
	}

	assessment, err := s.Reasoner.Evaluate(ctx, domain.EvaluationInput{
		Transcript:  transcript,
		OCR:         ocrResult,
		Vision:      visionResult,
		Metadata:    job.Metadata,
		DurationSec: durationSec,
	})
	if err != nil {
		// Transport failure: leave the job non-terminal so the queue's
		// retry policy decides its fate.
		if _, perr := s.Progress.Update(ctx, jobID, domain.PhaseRisk, domain.PhaseFailed, 10); perr != nil {
			lg.Warn("progress update failed", slog.Any("error", perr))
		}
		return domain.AnalysisSummary{}, fmt.Errorf("op=analyze: risk fusion: %w", err)
	}

	if err := s.Jobs.ReplaceRiskItems(ctx, jobID, assessment.Risks); err != nil {
		return domain.AnalysisSummary{}, fmt.Errorf("op=analyze: store risks: %w", err)
	}
	if err := s.Jobs.Complete(ctx, jobID, assessment.OverallScore, assessment.RiskLevel); err != nil {
		return domain.AnalysisSummary{}, fmt.Errorf("op=analyze: complete: %w", err)
	}
	if _, err := s.Progress.Update(ctx, jobID, domain.PhaseRisk, domain.PhaseCompleted, 100); err != nil {
		lg.Warn("progress update failed", slog.Any("error", err))
	}
	if err := s.Progress.Complete(ctx, jobID); err != nil {
		lg.Warn("progress complete failed", slog.Any("error", err))
	}

	lg.Info("analysis completed",
		slog.Float64("overall_score", assessment.OverallScore),
		slog.String("risk_level", string(assessment.RiskLevel)),
		slog.Int("risk_count", len(assessment.Risks)))
	return domain.AnalysisSummary{
		OverallScore: assessment.OverallScore,
		RiskLevel:    assessment.RiskLevel,
		RiskCount:    len(assessment.Risks),
	}, nil
}

// runPerceptualPhases fans the three analyses out and waits for all of
// them. Failures are isolated per phase.
func (s AnalyzeService) runPerceptualPhases(ctx domain.Context, jobID, localPath, workDir string) map[domain.Phase]phaseOutcome {
	var (
		mu       sync.Mutex
		outcomes = make(map[domain.Phase]phaseOutcome, 3)
		wg       sync.WaitGroup
	)
	run := func(phase domain.Phase, fn func(domain.Context) (any, error)) {
		defer wg.Done()
		s.updatePhase(ctx, jobID, phase, domain.PhaseProcessing, 5)
		doc, err := fn(ctx)
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("analysis phase failed",
				slog.String("phase", string(phase)), slog.Any("error", err))
			s.updatePhase(ctx, jobID, phase, domain.PhaseFailed, 5)
			mu.Lock()
			outcomes[phase] = phaseOutcome{err: err}
			mu.Unlock()
			return
		}
		s.storePhaseResult(ctx, jobID, phase, doc)
		s.updatePhase(ctx, jobID, phase, domain.PhaseCompleted, 100)
		mu.Lock()
		outcomes[phase] = phaseOutcome{doc: doc}
		mu.Unlock()
	}

	wg.Add(3)
	go run(domain.PhaseAudio, func(ctx domain.Context) (any, error) {
		return s.analyzeAudio(ctx, jobID, localPath, workDir)
	})
	go run(domain.PhaseOCR, func(ctx domain.Context) (any, error) {
		actx, cancel := context.WithTimeout(ctx, s.AnnotateTimeout)
		defer cancel()
		return s.OCR.DetectText(actx, localPath)
	})
	go run(domain.PhaseVideo, func(ctx domain.Context) (any, error) {
		actx, cancel := context.WithTimeout(ctx, s.AnnotateTimeout)
		defer cancel()
		return s.Vision.Annotate(actx, localPath)
	})
	wg.Wait()
	return outcomes
}

// analyzeAudio extracts the audio track and transcribes it. A clip with
// no audio stream yields an empty transcript instead of a failure.
func (s AnalyzeService) analyzeAudio(ctx domain.Context, jobID, localPath, workDir string) (*domain.Transcript, error) {
	ectx, cancel := context.WithTimeout(ctx, s.AudioExtractTimeout)
	defer cancel()

	wavPath := filepath.Join(workDir, "audio.wav")
	hasAudio, err := s.Media.ExtractAudio(ectx, localPath, wavPath)
	if err != nil {
		return nil, err
	}
	if !hasAudio {
		return &domain.Transcript{HasAudio: false}, nil
	}
	s.updatePhase(ctx, jobID, domain.PhaseAudio, domain.PhaseProcessing, 50)

	tctx, tcancel := context.WithTimeout(ctx, s.AnnotateTimeout)
	defer tcancel()
	return s.Speech.Transcribe(tctx, wavPath)
}

func (s AnalyzeService) updatePhase(ctx domain.Context, jobID string, phase domain.Phase, status domain.PhaseStatus, pct float64) {
	if _, err := s.Progress.Update(ctx, jobID, phase, status, pct); err != nil {
		observability.LoggerFromContext(ctx).Warn("progress update failed",
			slog.String("phase", string(phase)), slog.Any("error", err))
	}
}

func (s AnalyzeService) storePhaseResult(ctx domain.Context, jobID string, phase domain.Phase, doc any) {
	raw, err := json.Marshal(doc)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("phase result marshal failed",
			slog.String("phase", string(phase)), slog.Any("error", err))
		return
	}
	if err := s.Jobs.SetPhaseResult(ctx, jobID, phase, raw); err != nil {
		observability.LoggerFromContext(ctx).Warn("phase result store failed",
			slog.String("phase", string(phase)), slog.Any("error", err))
	}
}

// MarkFailed finalizes a job whose queue retries are exhausted.
func (s AnalyzeService) MarkFailed(ctx domain.Context, jobID, msg string) error {
	if err := s.Progress.Fail(ctx, jobID, msg); err != nil {
		observability.LoggerFromContext(ctx).Warn("progress fail write failed", slog.Any("error", err))
	}
	return s.Jobs.Fail(ctx, jobID, msg)
}

// failJob records a terminal failure on both the job row and the snapshot.
func (s AnalyzeService) failJob(ctx domain.Context, jobID, msg string, cause error) error {
	lg := observability.LoggerFromContext(ctx)
	if err := s.Jobs.Fail(ctx, jobID, msg); err != nil {
		lg.Warn("job fail write failed", slog.Any("error", err))
	}
	if err := s.Progress.Fail(ctx, jobID, msg); err != nil {
		lg.Warn("progress fail write failed", slog.Any("error", err))
	}
	if cause != nil {
		return fmt.Errorf("op=analyze: %s: %w", msg, cause)
	}
	return fmt.Errorf("op=analyze: %s", msg)
}

func summaryOf(job domain.AnalysisJob) domain.AnalysisSummary {
	var sum domain.AnalysisSummary
	if job.OverallScore != nil {
		sum.OverallScore = *job.OverallScore
	}
	if job.RiskLevel != nil {
		sum.RiskLevel = *job.RiskLevel
	}
	return sum
}
