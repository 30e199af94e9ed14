package render

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-retinarisk/internal/prediction"
	"github.com/drfirst/go-retinarisk/internal/prediction/predictiontest"
	"github.com/drfirst/go-retinarisk/internal/theme"
)

func TestRiskColorClass(t *testing.T) {
	tests := map[string]string{
		"low":        TierLow,
		"Low":        TierLow,
		"LOW":        TierLow,
		"moderate":   TierMid,
		"Moderate":   TierMid,
		"high":       TierHigh,
		"High":       TierHigh,
		"HIGH":       TierHigh,
		" high ":     TierHigh,
		"":           TierUnknown,
		"severe":     TierUnknown,
		"Borderline": TierUnknown,
		"mod":        TierUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, RiskColorClass(in), "category %q", in)
	}

	assert.Equal(t, RiskColorClass("high"), RiskColorClass("HIGH"))
}

func TestPercentageLabel(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.873, "87.3%"},
		{0, "0.0%"},
		{1, "100.0%"},
		{0.5, "50.0%"},
		{0.12345, "12.3%"},
		{0.1236, "12.4%"},
		{0.88, "88.0%"},
		{-0.0001, "0.0%"},
		{1.25, "125.0%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PercentageLabel(tt.in), "input %v", tt.in)
	}
}

func TestProbabilityBarWidth(t *testing.T) {
	assert.Equal(t, 0.0, ProbabilityBarWidth(0))
	assert.Equal(t, 100.0, ProbabilityBarWidth(1))
	assert.InDelta(t, 42.0, ProbabilityBarWidth(0.42), 1e-9)
	assert.Equal(t, 0.0, ProbabilityBarWidth(-0.3))
	assert.Equal(t, 100.0, ProbabilityBarWidth(7))
	assert.Equal(t, 0.0, ProbabilityBarWidth(math.NaN()))
	assert.Equal(t, 100.0, ProbabilityBarWidth(math.Inf(1)))
}

func TestFollowUpLabel(t *testing.T) {
	assert.Equal(t, "1 month", FollowUpLabel(1))
	assert.Equal(t, "0 months", FollowUpLabel(0))
	assert.Equal(t, "3 months", FollowUpLabel(3))
	assert.Equal(t, "6 months", FollowUpLabel(6))
}

func TestBuildView_CannedResponse(t *testing.T) {
	r, err := prediction.Decode([]byte(predictiontest.CannedJSON))
	require.NoError(t, err)

	v := BuildView(r)
	assert.Equal(t, "Moderate NPDR", v.Stage)
	assert.Equal(t, "87.3%", v.StageProbability)

	require.Len(t, v.StageBars, 5)
	assert.Equal(t, "Moderate NPDR", v.StageBars[0].Label)
	assert.Equal(t, "Mild NPDR", v.StageBars[1].Label)
	assert.Equal(t, "PDR", v.StageBars[4].Label)

	require.Len(t, v.Risks, 4)
	assert.Equal(t, TierHigh, v.Risks[0].Class)
	assert.Equal(t, "81.0%", v.Risks[0].Value)
	assert.Equal(t, "88.0%", v.Risks[0].Confidence)
	assert.Equal(t, TierMid, v.Risks[1].Class)
	assert.Equal(t, TierLow, v.Risks[2].Class)
	assert.Equal(t, TierUnknown, v.Risks[3].Class)

	assert.Equal(t, "60.0%", v.ImageShare.Percentage)
	assert.Equal(t, "40.0%", v.ClinicalShare.Percentage)
	require.Len(t, v.ClinicalFeatures, 3)
	assert.Equal(t, "HbA1c Level", v.ClinicalFeatures[0].Label)
	assert.InDelta(t, 35.0, v.ClinicalFeatures[0].Width, 1e-9)
	assert.Equal(t, "3 months", v.FollowUp)
}

func TestBuildView_DoesNotAliasResult(t *testing.T) {
	r, err := prediction.Decode([]byte(predictiontest.CannedJSON))
	require.NoError(t, err)

	v := BuildView(r)
	v.Recommendations[0] = "changed"
	v.ImageFeatures[0] = "changed"
	assert.NotEqual(t, "changed", r.Recommendations[0])
	assert.NotEqual(t, "changed", r.Explanation.TopImageFeatures[0])
}

func TestWriteText(t *testing.T) {
	r, err := prediction.Decode([]byte(predictiontest.CannedJSON))
	require.NoError(t, err)

	var plain bytes.Buffer
	require.NoError(t, WriteText(&plain, BuildView(r), TextOptions{Plain: true}))
	out := plain.String()
	assert.Contains(t, out, "Stage: Moderate NPDR (87.3%)")
	assert.Contains(t, out, "Follow-up in 3 months")
	assert.Contains(t, out, "1. Improve glycemic control")
	assert.NotContains(t, out, "\x1b[")

	var colored bytes.Buffer
	require.NoError(t, WriteText(&colored, BuildView(r), TextOptions{Theme: theme.Dark}))
	assert.Contains(t, colored.String(), "\x1b[91m")
}
