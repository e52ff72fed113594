package domain

import "time"

type SessionStatus string

const (
	SessionEditing   SessionStatus = "editing"
	SessionExporting SessionStatus = "exporting"
	SessionCompleted SessionStatus = "completed"
)

// EditSession is the single mutable edit workspace of a completed job.
// At most one session exists per job (unique constraint).
type EditSession struct {
	ID        string
	JobID     string
	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EditActionType string

const (
	ActionCut    EditActionType = "cut"
	ActionMute   EditActionType = "mute"
	ActionMosaic EditActionType = "mosaic"
	ActionTelop  EditActionType = "telop"
	ActionSkip   EditActionType = "skip"
)

func ValidEditActionType(t EditActionType) bool {
	switch t {
	case ActionCut, ActionMute, ActionMosaic, ActionTelop, ActionSkip:
		return true
	}
	return false
}

// MosaicOptions places a blurred rectangle over the frame for the action's
// time range. Coordinates are pixels in the source frame.
type MosaicOptions struct {
	X            int `json:"x"`
	Y            int `json:"y"`
	Width        int `json:"width"`
	Height       int `json:"height"`
	BlurStrength int `json:"blur_strength"`
}

// TelopOptions draws a caption for the action's time range.
// FontColor is #RRGGBB; BackgroundColor, when set, adds a filled box.
type TelopOptions struct {
	Text            string `json:"text"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	FontSize        int    `json:"font_size"`
	FontColor       string `json:"font_color"`
	BackgroundColor string `json:"background_color,omitempty"`
}

// EditAction is one declarative edit on the session timeline.
// Invariant: 0 <= StartSec < EndSec. Options are set only for the types
// that take them (mosaic, telop).
type EditAction struct {
	ID         string
	SessionID  string
	Type       EditActionType
	StartSec   float64
	EndSec     float64
	RiskItemID *string
	Mosaic     *MosaicOptions
	Telop      *TelopOptions
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ExportStatus string

const (
	ExportPending    ExportStatus = "pending"
	ExportProcessing ExportStatus = "processing"
	ExportCompleted  ExportStatus = "completed"
	ExportFailed     ExportStatus = "failed"
)

// Active reports whether the export still occupies the session's single
// export slot (new export requests are rejected while one is active).
func (s ExportStatus) Active() bool {
	return s == ExportPending || s == ExportProcessing
}

// ExportJob is one render of a session's actions into an output blob.
// Re-exports create new rows; OutputBlobPath is set only on completion.
type ExportJob struct {
	ID             string
	SessionID      string
	Status         ExportStatus
	OutputBlobPath *string
	ErrorMessage   string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}
