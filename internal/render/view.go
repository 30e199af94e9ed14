package render

import (
	"sort"

	"github.com/drfirst/go-retinarisk/internal/prediction"
)

// Bar is one labelled proportional bar
type Bar struct {
	Label      string
	Value      float64
	Percentage string
	Width      float64
}

// RiskCard is the display form of one risk score
type RiskCard struct {
	Title      string
	Category   string
	Class      string
	Value      string
	Width      float64
	Confidence string
}

// View holds everything the renderer shows for a result
type View struct {
	PredictionID     string
	Timestamp        string
	ModelVersion     string
	ProcessingTimeMS float64

	Stage            string
	StageProbability string
	StageBars        []Bar

	Risks []RiskCard

	ImageShare       Bar
	ClinicalShare    Bar
	ImageFeatures    []string
	ClinicalFeatures []Bar
	Narrative        string

	Recommendations []string
	FollowUp        string
}

func bar(label string, p float64) Bar {
	return Bar{
		Label:      label,
		Value:      p,
		Percentage: PercentageLabel(p),
		Width:      ProbabilityBarWidth(p),
	}
}

func card(title string, s prediction.RiskScore) RiskCard {
	return RiskCard{
		Title:      title,
		Category:   s.Category,
		Class:      RiskColorClass(s.Category),
		Value:      PercentageLabel(s.Value),
		Width:      ProbabilityBarWidth(s.Value),
		Confidence: PercentageLabel(s.Confidence),
	}
}

// BuildView derives the display values of r. Class probabilities are listed
// highest first, ties broken by label.
func BuildView(r *prediction.Result) View {
	v := View{
		PredictionID:     r.PredictionID,
		Timestamp:        r.Timestamp,
		ModelVersion:     r.ModelVersion,
		ProcessingTimeMS: r.ProcessingTimeMS,
		Stage:            r.DRStage,
		StageProbability: PercentageLabel(r.DRStageProbability),
		Risks: []RiskCard{
			card("Overall", r.OverallRisk),
			card("Nephropathy", r.NephropathyRisk),
			card("Neuropathy", r.NeuropathyRisk),
			card("Cardiovascular", r.CardiovascularRisk),
		},
		ImageShare:      bar("Image", r.Explanation.ImageContribution),
		ClinicalShare:   bar("Clinical", r.Explanation.ClinicalContribution),
		ImageFeatures:   append([]string{}, r.Explanation.TopImageFeatures...),
		Narrative:       r.Explanation.NaturalLanguageExplanation,
		Recommendations: append([]string{}, r.Recommendations...),
		FollowUp:        FollowUpLabel(r.FollowUpMonths),
	}

	v.StageBars = make([]Bar, 0, len(r.DRClassProbabilities))
	for label, p := range r.DRClassProbabilities {
		v.StageBars = append(v.StageBars, bar(label, p))
	}
	sort.Slice(v.StageBars, func(i, j int) bool {
		if v.StageBars[i].Value != v.StageBars[j].Value {
			return v.StageBars[i].Value > v.StageBars[j].Value
		}
		return v.StageBars[i].Label < v.StageBars[j].Label
	})

	v.ClinicalFeatures = make([]Bar, 0, len(r.Explanation.TopClinicalFeatures))
	for _, f := range r.Explanation.TopClinicalFeatures {
		v.ClinicalFeatures = append(v.ClinicalFeatures, bar(f.FeatureName, f.NormalizedContribution))
	}

	return v
}
