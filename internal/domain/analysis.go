package domain

// Perceptual phase outputs. These shapes are persisted as-is on the job row
// and fed to the risk reasoner; analyzers behind the ports decide how much
// of them they fill.

// TranscriptSegment is one diarized span of recognized speech.
type TranscriptSegment struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	StartSec   float64 `json:"start_time"`
	EndSec     float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
}

type Transcript struct {
	Segments []TranscriptSegment `json:"segments"`
	HasAudio bool                `json:"has_audio"`
}

// Vertex is a normalized [0,1] frame coordinate.
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type BoundingBox struct {
	Vertices []Vertex `json:"vertices"`
}

// TextAnnotation is one on-screen text occurrence.
type TextAnnotation struct {
	Text        string      `json:"text"`
	StartSec    float64     `json:"start_time"`
	EndSec      float64     `json:"end_time"`
	BoundingBox BoundingBox `json:"bounding_box"`
	Confidence  float64     `json:"confidence"`
}

type OCRTextResult struct {
	Annotations []TextAnnotation `json:"text_annotations"`
	HasText     bool             `json:"has_text"`
}

type TimeRange struct {
	StartSec float64 `json:"start"`
	EndSec   float64 `json:"end"`
}

// TimestampedBox is an object's bounding box at one frame.
type TimestampedBox struct {
	BoundingBox BoundingBox `json:"bounding_box"`
	OffsetSec   float64     `json:"time_offset"`
}

// TrackedObject is one object track across the clip.
type TrackedObject struct {
	Label      string           `json:"label"`
	Confidence float64          `json:"confidence"`
	TrackID    int64            `json:"track_id"`
	Segments   []TimeRange      `json:"segments"`
	Frames     []TimestampedBox `json:"frames"`
}

// ExplicitContentFrame is a per-frame explicit content likelihood.
type ExplicitContentFrame struct {
	OffsetSec  float64 `json:"time_offset"`
	Likelihood string  `json:"likelihood"`
}

type VisionResult struct {
	Objects        []TrackedObject        `json:"tracked_objects"`
	ExplicitFrames []ExplicitContentFrame `json:"explicit_content_annotations"`
}

// EvaluationInput carries whatever the three perceptual phases produced
// into the risk fusion. A nil field means that phase failed; the reasoner
// works with what remains.
type EvaluationInput struct {
	Transcript  *Transcript
	OCR         *OCRTextResult
	Vision      *VisionResult
	Metadata    VideoMetadata
	DurationSec float64
}
