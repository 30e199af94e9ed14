package render

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/drfirst/go-retinarisk/internal/theme"
)

const barColumns = 30

// palette maps tier classes to ANSI colours for one theme
type palette struct {
	tiers map[string]string
	dim   string
	bold  string
}

var palettes = map[theme.Mode]palette{
	theme.Light: {
		tiers: map[string]string{
			TierLow:     "\x1b[32m",
			TierMid:     "\x1b[33m",
			TierHigh:    "\x1b[31m",
			TierUnknown: "\x1b[90m",
		},
		dim:  "\x1b[90m",
		bold: "\x1b[1m",
	},
	theme.Dark: {
		tiers: map[string]string{
			TierLow:     "\x1b[92m",
			TierMid:     "\x1b[93m",
			TierHigh:    "\x1b[91m",
			TierUnknown: "\x1b[37m",
		},
		dim:  "\x1b[37m",
		bold: "\x1b[1;97m",
	},
}

const reset = "\x1b[0m"

// TextOptions controls terminal rendering
type TextOptions struct {
	Theme theme.Mode
	// Plain disables ANSI colour codes
	Plain bool
}

type textWriter struct {
	w    *bufio.Writer
	pal  palette
	opts TextOptions
}

func (t *textWriter) color(code, s string) string {
	if t.opts.Plain || code == "" {
		return s
	}
	return code + s + reset
}

func (t *textWriter) line(format string, args ...any) {
	fmt.Fprintf(t.w, format+"\n", args...)
}

func drawBar(width float64) string {
	n := int(math.Round(width / 100 * barColumns))
	return strings.Repeat("█", n) + strings.Repeat("░", barColumns-n)
}

// WriteText renders a view for a terminal
func WriteText(w io.Writer, v View, opts TextOptions) error {
	t := &textWriter{w: bufio.NewWriter(w), pal: palettes[opts.Theme], opts: opts}

	t.line("%s", t.color(t.pal.bold, "Diabetic Retinopathy"))
	t.line("  Stage: %s (%s)", v.Stage, v.StageProbability)
	for _, b := range v.StageBars {
		t.line("  %-16s %s %6s", b.Label, drawBar(b.Width), b.Percentage)
	}
	t.line("")

	t.line("%s", t.color(t.pal.bold, "Complication Risk"))
	for _, r := range v.Risks {
		tier := t.pal.tiers[r.Class]
		t.line("  %-16s %s %6s  %s  %s",
			r.Title,
			t.color(tier, drawBar(r.Width)),
			r.Value,
			t.color(tier, fmt.Sprintf("%-10s", r.Category)),
			t.color(t.pal.dim, "confidence "+r.Confidence))
	}
	t.line("")

	t.line("%s", t.color(t.pal.bold, "Explanation"))
	t.line("  %-16s %s %6s", v.ImageShare.Label, drawBar(v.ImageShare.Width), v.ImageShare.Percentage)
	t.line("  %-16s %s %6s", v.ClinicalShare.Label, drawBar(v.ClinicalShare.Width), v.ClinicalShare.Percentage)
	for _, f := range v.ImageFeatures {
		t.line("  - %s", f)
	}
	for _, b := range v.ClinicalFeatures {
		t.line("  %-20s %s %6s", b.Label, drawBar(b.Width), b.Percentage)
	}
	if v.Narrative != "" {
		t.line("  %s", v.Narrative)
	}
	t.line("")

	t.line("%s", t.color(t.pal.bold, "Recommendations"))
	for i, r := range v.Recommendations {
		t.line("  %d. %s", i+1, r)
	}
	t.line("  Follow-up in %s", v.FollowUp)
	t.line("")

	t.line("%s", t.color(t.pal.dim, fmt.Sprintf("prediction %s | model %s | %s | %.1f ms",
		v.PredictionID, v.ModelVersion, v.Timestamp, v.ProcessingTimeMS)))

	return t.w.Flush()
}
