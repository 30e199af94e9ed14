package demo

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/prediction"
)

func fixedAnalyzer() *Analyzer {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return &Analyzer{
		now:   func() time.Time { return at },
		newID: func() string { return "demo_000000000001" },
	}
}

func TestRiskFactor(t *testing.T) {
	rec := intake.DefaultRecord()
	assert.InDelta(t, 0.5, RiskFactor(rec), 1e-9)

	rec.HbA1c, rec.DiabetesDuration = 14, 30
	assert.Equal(t, 1.0, RiskFactor(rec))
}

func TestStageProbabilitiesNormalised(t *testing.T) {
	for _, risk := range []float64{0, 0.25, 0.5, 0.8, 1} {
		probs := StageProbabilities(risk)
		require.Len(t, probs, len(DRClasses))
		var sum float64
		for _, p := range probs {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "risk %v", risk)
	}
}

func TestAnalyzeDefaultRecord(t *testing.T) {
	res := fixedAnalyzer().Analyze(intake.DefaultRecord())

	assert.Equal(t, "demo_000000000001", res.PredictionID)
	assert.Equal(t, "2026-03-14T09:30:00Z", res.Timestamp)
	assert.Equal(t, "No DR", res.DRStage)
	assert.InDelta(t, 0.3/0.85, res.DRStageProbability, 1e-9)
	assert.InDelta(t, 0.2/0.85, res.DRClassProbabilities["Severe NPDR"], 1e-9)
	assert.Len(t, res.DRClassProbabilities, 5)

	assert.Equal(t, prediction.RiskScore{Value: 0.5, Category: "Moderate", Confidence: 0.88}, res.OverallRisk)
	assert.Equal(t, "Moderate", res.NephropathyRisk.Category)
	assert.InDelta(t, 0.55, res.NephropathyRisk.Value, 1e-9)
	assert.InDelta(t, 0.45, res.NeuropathyRisk.Value, 1e-9)
	assert.InDelta(t, 0.525, res.CardiovascularRisk.Value, 1e-9)
	assert.Equal(t, 0.84, res.CardiovascularRisk.Confidence)

	assert.Equal(t, []string{recGlycemic, recWeight, recFollowUp}, res.Recommendations)
	assert.Equal(t, 3, res.FollowUpMonths)
	assert.Equal(t, ModelVersion, res.ModelVersion)
	assert.Equal(t, 0.0, res.ProcessingTimeMS)

	assert.Equal(t, 0.6, res.Explanation.ImageContribution)
	assert.Equal(t, 0.4, res.Explanation.ClinicalContribution)
	assert.Len(t, res.Explanation.TopImageFeatures, 3)
	require.Len(t, res.Explanation.TopClinicalFeatures, 3)
	assert.Equal(t, "HbA1c Level", res.Explanation.TopClinicalFeatures[0].FeatureName)
	assert.InDelta(t, 0.5, res.Explanation.TopClinicalFeatures[0].Contribution, 1e-9)
	assert.InDelta(t, 0.28, res.Explanation.TopClinicalFeatures[2].Contribution, 1e-9)
	assert.Equal(t,
		"Patient shows No DR with HbA1c of 7.5% indicating poor glycemic control. "+
			"Diabetes duration of 5 years is a moderate risk factor.",
		res.Explanation.NaturalLanguageExplanation)
}

func TestAnalyzeHighRisk(t *testing.T) {
	rec := intake.DefaultRecord()
	rec.HbA1c = 12
	rec.DiabetesDuration = 20
	rec.BMI = 22
	rec.BloodPressureSystolic = 150
	rec.SmokingStatus = intake.SmokingCurrent

	res := fixedAnalyzer().Analyze(rec)
	assert.Equal(t, "Severe NPDR", res.DRStage)
	assert.Equal(t, 0.0, res.DRClassProbabilities["No DR"])
	assert.Equal(t, "High", res.OverallRisk.Category)
	assert.Equal(t, 1.0, res.NephropathyRisk.Value)
	assert.Equal(t, "High", res.CardiovascularRisk.Category)
	assert.Equal(t, 1, res.FollowUpMonths)
	assert.Equal(t, []string{recGlycemic, recPressure, recSmoking, recUrgent}, res.Recommendations)
	assert.Contains(t, res.Explanation.NaturalLanguageExplanation, "is a significant risk factor")
}

func TestAnalyzeLowRisk(t *testing.T) {
	rec := intake.DefaultRecord()
	rec.HbA1c = 5
	rec.DiabetesDuration = 0
	rec.BMI = 22

	res := fixedAnalyzer().Analyze(rec)
	assert.Equal(t, "No DR", res.DRStage)
	assert.Equal(t, "Low", res.OverallRisk.Category)
	assert.Equal(t, "Low", res.NephropathyRisk.Category)
	assert.Equal(t, "Low", res.CardiovascularRisk.Category)
	assert.Equal(t, 6, res.FollowUpMonths)
	assert.Equal(t, []string{recContinue}, res.Recommendations)
	assert.Contains(t, res.Explanation.NaturalLanguageExplanation, "indicating good glycemic control")
}

func TestCategoryUsesUnscaledRisk(t *testing.T) {
	// risk 0.32: nephropathy moderate at > 0.3 even though overall is low
	rec := intake.DefaultRecord()
	rec.HbA1c = 6.4
	rec.DiabetesDuration = 0

	res := fixedAnalyzer().Analyze(rec)
	assert.Equal(t, "Low", res.OverallRisk.Category)
	assert.Equal(t, "Moderate", res.NephropathyRisk.Category)
	assert.Equal(t, "Low", res.CardiovascularRisk.Category)
}

func TestFollowUpMonthsBoundaries(t *testing.T) {
	assert.Equal(t, 6, FollowUpMonths(0.4))
	assert.Equal(t, 3, FollowUpMonths(0.41))
	assert.Equal(t, 3, FollowUpMonths(0.7))
	assert.Equal(t, 1, FollowUpMonths(0.71))
}

func TestPredictionIDFormat(t *testing.T) {
	res := NewAnalyzer().Analyze(intake.DefaultRecord())
	assert.Regexp(t, regexp.MustCompile(`^demo_[0-9a-f]{12}$`), res.PredictionID)
	_, err := time.Parse(time.RFC3339Nano, res.Timestamp)
	require.NoError(t, err)
}

func TestPredictValidates(t *testing.T) {
	a := fixedAnalyzer()
	rec := intake.DefaultRecord()
	rec.Gender = "other"

	_, err := a.Predict(context.Background(), rec)
	var f *prediction.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, 422, f.Status)

	res, err := a.Predict(context.Background(), intake.DefaultRecord())
	require.NoError(t, err)
	assert.Equal(t, "No DR", res.DRStage)
}
