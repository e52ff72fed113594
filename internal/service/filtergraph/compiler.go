// Package filtergraph compiles declarative edit actions into an ffmpeg
// filter_complex expression plus the labels of the final streams. It does
// no I/O; identical action lists compile to byte-identical filter text.
package filtergraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

const (
	defaultBlurStrength = 10
	defaultFontSize     = 24
	defaultFontColor    = "#FFFFFF"
)

// Graph is the compiled filter expression. An empty FilterComplex means no
// filtering is needed and the caller may stream-copy; VideoMap and AudioMap
// are then the raw input pads.
type Graph struct {
	FilterComplex string
	VideoMap      string
	AudioMap      string
}

// Compiler builds filter graphs. FontFile is the font used for telop
// rendering and is part of the compiled output.
type Compiler struct {
	fontFile string
}

func NewCompiler(fontFile string) *Compiler {
	return &Compiler{fontFile: fontFile}
}

// Build compiles actions into a Graph. Cuts are folded into one time-select
// stanza pair (sorted by range so reordered inputs compile identically);
// mutes, mosaics and telops chain in input order; skip actions are markers
// and compile to nothing.
func (c *Compiler) Build(actions []domain.EditAction) Graph {
	var filters []string
	videoLabel := "0:v"
	audioLabel := "0:a"
	videoInGraph := false
	audioInGraph := false

	cuts := actionsOfType(actions, domain.ActionCut)
	if len(cuts) > 0 {
		sort.SliceStable(cuts, func(i, j int) bool {
			if cuts[i].StartSec != cuts[j].StartSec {
				return cuts[i].StartSec < cuts[j].StartSec
			}
			return cuts[i].EndSec < cuts[j].EndSec
		})
		selectExpr := betweenExpression(cuts, true)
		filters = append(filters,
			fmt.Sprintf("[0:v]select='%s',setpts=N/FRAME_RATE/TB[vcut]", selectExpr),
			fmt.Sprintf("[0:a]aselect='%s',asetpts=N/SR/TB[acut]", selectExpr),
		)
		videoLabel, audioLabel = "vcut", "acut"
		videoInGraph, audioInGraph = true, true
	}

	for i, a := range actionsOfType(actions, domain.ActionMute) {
		next := fmt.Sprintf("a_mute_%d", i+1)
		filters = append(filters, fmt.Sprintf(
			"[%s]volume=0:enable='%s'[%s]",
			audioLabel, betweenExpression([]domain.EditAction{a}, false), next,
		))
		audioLabel = next
		audioInGraph = true
	}

	for i, a := range actionsOfType(actions, domain.ActionMosaic) {
		var opts domain.MosaicOptions
		if a.Mosaic != nil {
			opts = *a.Mosaic
		}
		blur := opts.BlurStrength
		if blur <= 0 {
			blur = defaultBlurStrength
		}
		enable := betweenExpression([]domain.EditAction{a}, false)

		base := fmt.Sprintf("v_mosaic_base_%d", i+1)
		blurIn := fmt.Sprintf("v_mosaic_blur_%d", i+1)
		blurred := fmt.Sprintf("v_mosaic_blurred_%d", i+1)
		next := fmt.Sprintf("v_mosaic_%d", i+1)

		filters = append(filters,
			fmt.Sprintf("[%s]split=2[%s][%s]", videoLabel, base, blurIn),
			fmt.Sprintf("[%s]crop=%d:%d:%d:%d,boxblur=%d:1[%s]",
				blurIn, opts.Width, opts.Height, opts.X, opts.Y, blur, blurred),
			fmt.Sprintf("[%s][%s]overlay=%d:%d:enable='%s'[%s]",
				base, blurred, opts.X, opts.Y, enable, next),
		)
		videoLabel = next
		videoInGraph = true
	}

	for i, a := range actionsOfType(actions, domain.ActionTelop) {
		var opts domain.TelopOptions
		if a.Telop != nil {
			opts = *a.Telop
		}
		fontSize := opts.FontSize
		if fontSize <= 0 {
			fontSize = defaultFontSize
		}
		fontColor := opts.FontColor
		if fontColor == "" {
			fontColor = defaultFontColor
		}
		enable := betweenExpression([]domain.EditAction{a}, false)

		drawtext := fmt.Sprintf(
			"drawtext=fontfile='%s':text='%s':x=%d:y=%d:fontsize=%d:fontcolor=%s:enable='%s'",
			c.fontFile, escapeDrawtext(opts.Text), opts.X, opts.Y, fontSize, fontColor, enable,
		)
		if opts.BackgroundColor != "" {
			drawtext += fmt.Sprintf(":box=1:boxcolor=%s", opts.BackgroundColor)
		}

		next := fmt.Sprintf("v_telop_%d", i+1)
		filters = append(filters, fmt.Sprintf("[%s]%s[%s]", videoLabel, drawtext, next))
		videoLabel = next
		videoInGraph = true
	}

	if len(filters) == 0 {
		return Graph{FilterComplex: "", VideoMap: "0:v", AudioMap: "0:a"}
	}

	videoMap := "0:v"
	if videoInGraph {
		videoMap = "[" + videoLabel + "]"
	}
	audioMap := "0:a"
	if audioInGraph {
		audioMap = "[" + audioLabel + "]"
	}
	return Graph{
		FilterComplex: strings.Join(filters, ";"),
		VideoMap:      videoMap,
		AudioMap:      audioMap,
	}
}

func actionsOfType(actions []domain.EditAction, t domain.EditActionType) []domain.EditAction {
	var out []domain.EditAction
	for _, a := range actions {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// betweenExpression renders the half-open time windows of actions as a sum
// of between(t,start,end) terms; invert wraps the sum in not(...) for the
// keep-side of a cut select.
func betweenExpression(actions []domain.EditAction, invert bool) string {
	ranges := make([]string, 0, len(actions))
	for _, a := range actions {
		ranges = append(ranges, fmt.Sprintf("between(t,%.3f,%.3f)", a.StartSec, a.EndSec))
	}
	if len(ranges) == 0 {
		if invert {
			return "1"
		}
		return "0"
	}
	expr := strings.Join(ranges, "+")
	if invert {
		return "not(" + expr + ")"
	}
	return expr
}

// escapeDrawtext escapes the characters drawtext treats specially inside a
// quoted text argument.
func escapeDrawtext(text string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `\'`,
		"\n", `\n`,
	)
	return r.Replace(text)
}
