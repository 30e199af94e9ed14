// Package demo implements the rule-based stand-in for the prediction engine.
// It scores a clinical record from HbA1c and diabetes duration only; the
// numbers are illustrative and carry no clinical meaning.
package demo

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/prediction"
)

// ModelVersion is reported with every demo prediction
const ModelVersion = "v1.0.0-demo"

// DRClasses lists the DR stages in severity order
var DRClasses = []string{"No DR", "Mild NPDR", "Moderate NPDR", "Severe NPDR", "PDR"}

var imageFeatures = []string{"Microaneurysms detected", "Hard exudates present", "Retinal hemorrhages"}

const (
	recGlycemic   = "Improve glycemic control - Target HbA1c < 7%"
	recPressure   = "Monitor and manage blood pressure"
	recWeight     = "Weight management recommended"
	recSmoking    = "Smoking cessation strongly recommended"
	recUrgent     = "Urgent ophthalmologist consultation required"
	recFollowUp   = "Schedule follow-up with eye specialist"
	recContinue   = "Continue current management plan"
	idPrefix      = "demo_"
	idHexLen      = 12
	imageShare    = 0.60
	clinicalShare = 0.40
)

// threshold maps the risk factor to a category and confidence for one complication
type threshold struct {
	scale      float64
	high       float64
	moderate   float64
	confidence float64
}

var (
	overallThreshold        = threshold{scale: 1.0, high: 0.7, moderate: 0.4, confidence: 0.88}
	nephropathyThreshold    = threshold{scale: 1.1, high: 0.6, moderate: 0.3, confidence: 0.82}
	neuropathyThreshold     = threshold{scale: 0.9, high: 0.7, moderate: 0.4, confidence: 0.79}
	cardiovascularThreshold = threshold{scale: 1.05, high: 0.65, moderate: 0.35, confidence: 0.84}
)

// score categorizes on the unscaled risk factor; only the value is scaled
func (t threshold) score(risk float64) prediction.RiskScore {
	category := prediction.CategoryLow
	switch {
	case risk > t.high:
		category = prediction.CategoryHigh
	case risk > t.moderate:
		category = prediction.CategoryModerate
	}
	return prediction.RiskScore{
		Value:      math.Min(1, risk*t.scale),
		Category:   category,
		Confidence: t.confidence,
	}
}

// Analyzer scores clinical records
type Analyzer struct {
	now   func() time.Time
	newID func() string
}

// NewAnalyzer creates an analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		now: time.Now,
		newID: func() string {
			return idPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:idHexLen]
		},
	}
}

// RiskFactor combines HbA1c and diabetes duration into a value in [0, 1]
func RiskFactor(rec intake.ClinicalRecord) float64 {
	return math.Min(1, (rec.HbA1c/10+rec.DiabetesDuration/20)/2)
}

// StageProbabilities returns the normalised DR class distribution, in DRClasses order
func StageProbabilities(risk float64) []float64 {
	raw := []float64{
		math.Max(0, 0.8-risk),
		0.1,
		0.05 + risk*0.2,
		0.05 + risk*0.3,
		risk * 0.2,
	}
	var total float64
	for _, p := range raw {
		total += p
	}
	for i := range raw {
		raw[i] /= total
	}
	return raw
}

// FollowUpMonths returns the recommended follow-up interval for a risk factor
func FollowUpMonths(risk float64) int {
	switch {
	case risk > 0.7:
		return 1
	case risk > 0.4:
		return 3
	default:
		return 6
	}
}

// Recommendations lists advice for rec, most specific first
func Recommendations(rec intake.ClinicalRecord, risk float64) []string {
	var recs []string
	if rec.HbA1c > 7 {
		recs = append(recs, recGlycemic)
	}
	if rec.BloodPressureSystolic > 130 {
		recs = append(recs, recPressure)
	}
	if rec.BMI > 25 {
		recs = append(recs, recWeight)
	}
	if rec.SmokingStatus == intake.SmokingCurrent {
		recs = append(recs, recSmoking)
	}
	switch {
	case risk > 0.7:
		recs = append(recs, recUrgent)
	case risk > 0.4:
		recs = append(recs, recFollowUp)
	default:
		recs = append(recs, recContinue)
	}
	return recs
}

func narrative(stage string, rec intake.ClinicalRecord) string {
	control := "good"
	if rec.HbA1c > 7 {
		control = "poor"
	}
	weight := "a moderate"
	if rec.DiabetesDuration > 10 {
		weight = "a significant"
	}
	return fmt.Sprintf("Patient shows %s with HbA1c of %s%% indicating %s glycemic control. "+
		"Diabetes duration of %s years is %s risk factor.",
		stage, num(rec.HbA1c), control, num(rec.DiabetesDuration), weight)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Analyze scores rec
func (a *Analyzer) Analyze(rec intake.ClinicalRecord) *prediction.Result {
	start := a.now()

	risk := RiskFactor(rec)
	probs := StageProbabilities(risk)

	// first maximum wins
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	stage := DRClasses[best]

	classProbs := make(map[string]float64, len(DRClasses))
	for i, name := range DRClasses {
		classProbs[name] = probs[i]
	}

	res := &prediction.Result{
		PredictionID:         a.newID(),
		Timestamp:            start.UTC().Format(time.RFC3339Nano),
		DRStage:              stage,
		DRStageProbability:   probs[best],
		DRClassProbabilities: classProbs,
		OverallRisk:          overallThreshold.score(risk),
		NephropathyRisk:      nephropathyThreshold.score(risk),
		NeuropathyRisk:       neuropathyThreshold.score(risk),
		CardiovascularRisk:   cardiovascularThreshold.score(risk),
		Explanation: prediction.Explanation{
			ImageContribution:    imageShare,
			ClinicalContribution: clinicalShare,
			TopImageFeatures:     append([]string(nil), imageFeatures...),
			TopClinicalFeatures: []prediction.FeatureContribution{
				{FeatureName: "HbA1c Level", Contribution: rec.HbA1c / 15, NormalizedContribution: 0.35},
				{FeatureName: "Diabetes Duration", Contribution: rec.DiabetesDuration / 50, NormalizedContribution: 0.25},
				{FeatureName: "Blood Glucose", Contribution: rec.BloodGlucose / 500, NormalizedContribution: 0.20},
			},
			NaturalLanguageExplanation: narrative(stage, rec),
		},
		Recommendations: Recommendations(rec, risk),
		FollowUpMonths:  FollowUpMonths(risk),
		ModelVersion:    ModelVersion,
	}
	res.ProcessingTimeMS = float64(a.now().Sub(start).Microseconds()) / 1000
	return res
}

// Predict scores rec locally. It lets the client run without a service.
func (a *Analyzer) Predict(ctx context.Context, rec intake.ClinicalRecord) (*prediction.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, prediction.NetworkError(err)
	}
	if err := intake.Validate(rec); err != nil {
		return nil, prediction.ServerError(http.StatusUnprocessableEntity, err.Error())
	}
	return a.Analyze(rec), nil
}
