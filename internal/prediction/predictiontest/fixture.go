// Package predictiontest provides canned prediction responses for tests.
package predictiontest

import (
	"encoding/json"
)

// CannedJSON is a complete response as served by the demo-analyze endpoint
const CannedJSON = `{
  "prediction_id": "demo_3f9a1c2b7d4e",
  "timestamp": "2026-10-17T09:41:12.532011",
  "dr_stage": "Moderate NPDR",
  "dr_stage_probability": 0.873,
  "dr_class_probabilities": {
    "No DR": 0.02,
    "Mild NPDR": 0.05,
    "Moderate NPDR": 0.873,
    "Severe NPDR": 0.04,
    "PDR": 0.017
  },
  "overall_risk_score": {"value": 0.81, "category": "High", "confidence": 0.88},
  "nephropathy_risk": {"value": 0.55, "category": "Moderate", "confidence": 0.82},
  "neuropathy_risk": {"value": 0.22, "category": "Low", "confidence": 0.79},
  "cardiovascular_risk": {"value": 0.5, "category": "Borderline", "confidence": 0.84},
  "explanation": {
    "image_contribution": 0.6,
    "clinical_contribution": 0.4,
    "top_image_features": ["Microaneurysms detected", "Hard exudates present", "Retinal hemorrhages"],
    "top_clinical_features": [
      {"feature_name": "HbA1c Level", "contribution": 0.5, "normalized_contribution": 0.35},
      {"feature_name": "Diabetes Duration", "contribution": 0.1, "normalized_contribution": 0.25},
      {"feature_name": "Blood Glucose", "contribution": 0.28, "normalized_contribution": 0.2}
    ],
    "natural_language_explanation": "Patient shows Moderate NPDR with HbA1c of 7.5% indicating poor glycemic control."
  },
  "recommendations": ["Improve glycemic control - Target HbA1c < 7%", "Schedule follow-up with eye specialist"],
  "follow_up_months": 3,
  "model_version": "v1.0.0-demo",
  "processing_time_ms": 1.42
}`

// Without returns CannedJSON with the given top-level fields removed
func Without(fields ...string) string {
	m := decode()
	for _, f := range fields {
		delete(m, f)
	}
	return encode(m)
}

// With returns CannedJSON with top-level fields replaced by the given values
func With(overrides map[string]any) string {
	m := decode()
	for k, v := range overrides {
		m[k] = v
	}
	return encode(m)
}

func decode() map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(CannedJSON), &m); err != nil {
		panic(err)
	}
	return m
}

func encode(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(b)
}
