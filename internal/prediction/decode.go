package prediction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMissingField marks a required response field that was absent or null
var ErrMissingField = errors.New("missing required field")

// wire mirrors Result with pointers so absent and null fields can be detected
type wireRiskScore struct {
	Value      *float64 `json:"value"`
	Category   *string  `json:"category"`
	Confidence *float64 `json:"confidence"`
}

type wireFeature struct {
	FeatureName            *string  `json:"feature_name"`
	Contribution           *float64 `json:"contribution"`
	NormalizedContribution *float64 `json:"normalized_contribution"`
}

type wireExplanation struct {
	ImageContribution          *float64       `json:"image_contribution"`
	ClinicalContribution       *float64       `json:"clinical_contribution"`
	TopImageFeatures           *[]*string     `json:"top_image_features"`
	TopClinicalFeatures        *[]wireFeature `json:"top_clinical_features"`
	NaturalLanguageExplanation *string        `json:"natural_language_explanation"`
}

type wireResult struct {
	PredictionID         *string              `json:"prediction_id"`
	Timestamp            *string              `json:"timestamp"`
	DRStage              *string              `json:"dr_stage"`
	DRStageProbability   *float64             `json:"dr_stage_probability"`
	DRClassProbabilities *map[string]*float64 `json:"dr_class_probabilities"`
	OverallRisk          *wireRiskScore       `json:"overall_risk_score"`
	NephropathyRisk      *wireRiskScore       `json:"nephropathy_risk"`
	NeuropathyRisk       *wireRiskScore       `json:"neuropathy_risk"`
	CardiovascularRisk   *wireRiskScore       `json:"cardiovascular_risk"`
	Explanation          *wireExplanation     `json:"explanation"`
	Recommendations      *[]*string           `json:"recommendations"`
	FollowUpMonths       *int                 `json:"follow_up_months"`
	ModelVersion         *string              `json:"model_version"`
	ProcessingTimeMS     *float64             `json:"processing_time_ms"`
}

// Decode parses a response body into a Result. Any absent, null or mistyped
// required field fails the whole decode; no partial result is returned.
// Errors are *Failure with ReasonMalformed.
func Decode(body []byte) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	var w wireResult
	if err := dec.Decode(&w); err != nil {
		return nil, Malformed(fmt.Errorf("decode body: %w", err))
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, Malformed(errors.New("unexpected data after response object"))
	}

	r, err := w.toResult()
	if err != nil {
		return nil, Malformed(err)
	}
	return r, nil
}

func (w *wireResult) toResult() (*Result, error) {
	c := &checker{}
	r := &Result{
		PredictionID:         c.str("prediction_id", w.PredictionID),
		Timestamp:            c.str("timestamp", w.Timestamp),
		DRStage:              c.str("dr_stage", w.DRStage),
		DRStageProbability:   c.num("dr_stage_probability", w.DRStageProbability),
		OverallRisk:          c.risk("overall_risk_score", w.OverallRisk),
		NephropathyRisk:      c.risk("nephropathy_risk", w.NephropathyRisk),
		NeuropathyRisk:       c.risk("neuropathy_risk", w.NeuropathyRisk),
		CardiovascularRisk:   c.risk("cardiovascular_risk", w.CardiovascularRisk),
		Explanation:          c.explanation("explanation", w.Explanation),
		ModelVersion:         c.str("model_version", w.ModelVersion),
		ProcessingTimeMS:     c.num("processing_time_ms", w.ProcessingTimeMS),
		DRClassProbabilities: map[string]float64{},
	}

	if w.DRClassProbabilities == nil {
		c.missing("dr_class_probabilities")
	} else {
		for k, v := range *w.DRClassProbabilities {
			r.DRClassProbabilities[k] = c.num("dr_class_probabilities."+k, v)
		}
	}

	r.Recommendations = c.strs("recommendations", w.Recommendations)

	if w.FollowUpMonths == nil {
		c.missing("follow_up_months")
	} else if *w.FollowUpMonths < 0 {
		c.fail(fmt.Errorf("follow_up_months: negative value %d", *w.FollowUpMonths))
	} else {
		r.FollowUpMonths = *w.FollowUpMonths
	}

	if c.err != nil {
		return nil, c.err
	}
	return r, nil
}

// checker records the first contract violation while the result is assembled
type checker struct {
	err error
}

func (c *checker) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *checker) missing(path string) {
	c.fail(fmt.Errorf("%s: %w", path, ErrMissingField))
}

func (c *checker) str(path string, v *string) string {
	if v == nil {
		c.missing(path)
		return ""
	}
	return *v
}

func (c *checker) num(path string, v *float64) float64 {
	if v == nil {
		c.missing(path)
		return 0
	}
	return *v
}

// strs copies a required string list; a null element is a missing field
func (c *checker) strs(path string, v *[]*string) []string {
	if v == nil {
		c.missing(path)
		return nil
	}
	out := make([]string, 0, len(*v))
	for i, e := range *v {
		out = append(out, c.str(fmt.Sprintf("%s[%d]", path, i), e))
	}
	return out
}

func (c *checker) risk(path string, w *wireRiskScore) RiskScore {
	if w == nil {
		c.missing(path)
		return RiskScore{}
	}
	return RiskScore{
		Value:      c.num(path+".value", w.Value),
		Category:   c.str(path+".category", w.Category),
		Confidence: c.num(path+".confidence", w.Confidence),
	}
}

func (c *checker) explanation(path string, w *wireExplanation) Explanation {
	if w == nil {
		c.missing(path)
		return Explanation{}
	}

	e := Explanation{
		ImageContribution:          c.num(path+".image_contribution", w.ImageContribution),
		ClinicalContribution:       c.num(path+".clinical_contribution", w.ClinicalContribution),
		NaturalLanguageExplanation: c.str(path+".natural_language_explanation", w.NaturalLanguageExplanation),
	}

	e.TopImageFeatures = c.strs(path+".top_image_features", w.TopImageFeatures)

	if w.TopClinicalFeatures == nil {
		c.missing(path + ".top_clinical_features")
		return e
	}
	e.TopClinicalFeatures = make([]FeatureContribution, 0, len(*w.TopClinicalFeatures))
	for i, f := range *w.TopClinicalFeatures {
		fp := fmt.Sprintf("%s.top_clinical_features[%d]", path, i)
		e.TopClinicalFeatures = append(e.TopClinicalFeatures, FeatureContribution{
			FeatureName:            c.str(fp+".feature_name", f.FeatureName),
			Contribution:           c.num(fp+".contribution", f.Contribution),
			NormalizedContribution: c.num(fp+".normalized_contribution", f.NormalizedContribution),
		})
	}
	return e
}
