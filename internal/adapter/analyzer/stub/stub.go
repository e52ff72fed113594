// Package stub provides fast, deterministic perceptual analyzers for
// local development and tests. Results are derived from a hash of the
// input path so repeated runs agree.
package stub

import (
	"fmt"
	"hash/fnv"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

func seedOf(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return h.Sum64()
}

var samplePhrases = []string{
	"this product will definitely change your life",
	"everyone who disagrees is an idiot",
	"watch what happens when we sneak in after closing",
	"one hundred percent guaranteed results or your money back",
	"normal people would never buy the competitor's junk",
}

var sampleOverlays = []string{
	"LIMITED OFFER!!!",
	"100% effective",
	"DO NOT try this at home",
	"completely free, no strings attached",
}

var sampleLabels = []string{"person", "car", "bottle", "phone", "knife"}

var likelihoods = []string{"VERY_UNLIKELY", "UNLIKELY", "POSSIBLE", "LIKELY"}

// Speech implements domain.SpeechAnalyzer.
type Speech struct{}

func NewSpeech() *Speech { return &Speech{} }

// Transcribe fabricates a short diarized transcript.
func (s *Speech) Transcribe(_ domain.Context, localPath string) (*domain.Transcript, error) {
	seed := seedOf(localPath)
	if seed%7 == 0 {
		return &domain.Transcript{HasAudio: false}, nil
	}
	n := int(seed%3) + 2
	segs := make([]domain.TranscriptSegment, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * 4.0
		segs = append(segs, domain.TranscriptSegment{
			Speaker:    fmt.Sprintf("speaker_%d", i%2+1),
			Text:       samplePhrases[(seed+uint64(i))%uint64(len(samplePhrases))],
			StartSec:   start,
			EndSec:     start + 3.5,
			Confidence: 0.85 + float64((seed>>8)%10)/100,
		})
	}
	return &domain.Transcript{Segments: segs, HasAudio: true}, nil
}

// OCR implements domain.OCRAnalyzer.
type OCR struct{}

func NewOCR() *OCR { return &OCR{} }

// DetectText fabricates on-screen text annotations.
func (o *OCR) DetectText(_ domain.Context, localPath string) (*domain.OCRTextResult, error) {
	seed := seedOf(localPath)
	if seed%5 == 0 {
		return &domain.OCRTextResult{HasText: false}, nil
	}
	n := int(seed%2) + 1
	anns := make([]domain.TextAnnotation, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i)*5.0 + 1.0
		anns = append(anns, domain.TextAnnotation{
			Text:     sampleOverlays[(seed>>4+uint64(i))%uint64(len(sampleOverlays))],
			StartSec: start,
			EndSec:   start + 2.0,
			BoundingBox: domain.BoundingBox{Vertices: []domain.Vertex{
				{X: 0.1, Y: 0.7}, {X: 0.9, Y: 0.7}, {X: 0.9, Y: 0.9}, {X: 0.1, Y: 0.9},
			}},
			Confidence: 0.9,
		})
	}
	return &domain.OCRTextResult{Annotations: anns, HasText: true}, nil
}

// Vision implements domain.VisionAnalyzer.
type Vision struct{}

func NewVision() *Vision { return &Vision{} }

// Annotate fabricates object tracks and explicit-content frames.
func (v *Vision) Annotate(_ domain.Context, localPath string) (*domain.VisionResult, error) {
	seed := seedOf(localPath)
	n := int(seed%2) + 1
	objs := make([]domain.TrackedObject, 0, n)
	for i := 0; i < n; i++ {
		objs = append(objs, domain.TrackedObject{
			Label:      sampleLabels[(seed>>2+uint64(i))%uint64(len(sampleLabels))],
			Confidence: 0.8,
			TrackID:    int64(i + 1),
			Segments:   []domain.TimeRange{{StartSec: float64(i), EndSec: float64(i) + 6.0}},
			Frames: []domain.TimestampedBox{{
				OffsetSec: float64(i),
				BoundingBox: domain.BoundingBox{Vertices: []domain.Vertex{
					{X: 0.2, Y: 0.2}, {X: 0.6, Y: 0.2}, {X: 0.6, Y: 0.8}, {X: 0.2, Y: 0.8},
				}},
			}},
		})
	}
	frames := []domain.ExplicitContentFrame{
		{OffsetSec: 0, Likelihood: likelihoods[(seed>>6)%uint64(len(likelihoods))]},
		{OffsetSec: 5, Likelihood: likelihoods[(seed>>9)%uint64(len(likelihoods))]},
	}
	return &domain.VisionResult{Objects: objs, ExplicitFrames: frames}, nil
}
