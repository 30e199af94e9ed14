// Package prediction defines the prediction response contract and its failure taxonomy.
package prediction

// Risk categories as reported by the prediction service. The service
// capitalizes them; consumers must match case-insensitively.
const (
	CategoryLow      = "Low"
	CategoryModerate = "Moderate"
	CategoryHigh     = "High"
)

// RiskScore is a categorized severity judgment with a value and confidence
type RiskScore struct {
	Value      float64 `json:"value"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// FeatureContribution attributes part of the prediction to one clinical input
type FeatureContribution struct {
	FeatureName            string  `json:"feature_name"`
	Contribution           float64 `json:"contribution"`
	NormalizedContribution float64 `json:"normalized_contribution"`
}

// Explanation splits the prediction between image-derived and clinical inputs
type Explanation struct {
	ImageContribution          float64               `json:"image_contribution"`
	ClinicalContribution       float64               `json:"clinical_contribution"`
	TopImageFeatures           []string              `json:"top_image_features"`
	TopClinicalFeatures        []FeatureContribution `json:"top_clinical_features"`
	NaturalLanguageExplanation string                `json:"natural_language_explanation"`
}

// Result is the outcome of one successful submission. It is never mutated
// after decoding; a new submission replaces it wholesale.
type Result struct {
	PredictionID         string             `json:"prediction_id"`
	Timestamp            string             `json:"timestamp"`
	DRStage              string             `json:"dr_stage"`
	DRStageProbability   float64            `json:"dr_stage_probability"`
	DRClassProbabilities map[string]float64 `json:"dr_class_probabilities"`
	OverallRisk          RiskScore          `json:"overall_risk_score"`
	NephropathyRisk      RiskScore          `json:"nephropathy_risk"`
	NeuropathyRisk       RiskScore          `json:"neuropathy_risk"`
	CardiovascularRisk   RiskScore          `json:"cardiovascular_risk"`
	Explanation          Explanation        `json:"explanation"`
	Recommendations      []string           `json:"recommendations"`
	FollowUpMonths       int                `json:"follow_up_months"`
	ModelVersion         string             `json:"model_version"`
	ProcessingTimeMS     float64            `json:"processing_time_ms"`
}
