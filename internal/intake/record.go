// Package intake implements the clinical record and the model that mediates edits to it.
package intake

// Gender values accepted by the prediction service
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// Smoking status values accepted by the prediction service
const (
	SmokingNever   = "never"
	SmokingFormer  = "former"
	SmokingCurrent = "current"
)

// ClinicalRecord is the full set of patient measurements submitted for scoring.
// Numeric fields are float64 so they serialize as JSON numbers; fields the
// service declares as integers only ever hold whole values.
type ClinicalRecord struct {
	Age                    float64 `json:"age"`
	Gender                 string  `json:"gender"`
	BMI                    float64 `json:"bmi"`
	HbA1c                  float64 `json:"hba1c"`
	BloodGlucose           float64 `json:"blood_glucose"`
	BloodPressureSystolic  float64 `json:"blood_pressure_systolic"`
	BloodPressureDiastolic float64 `json:"blood_pressure_diastolic"`
	DiabetesDuration       float64 `json:"diabetes_duration"`
	Creatinine             float64 `json:"creatinine"`
	CholesterolTotal       float64 `json:"cholesterol_total"`
	CholesterolLDL         float64 `json:"cholesterol_ldl"`
	CholesterolHDL         float64 `json:"cholesterol_hdl"`
	Triglycerides          float64 `json:"triglycerides"`
	HasHypertension        bool    `json:"has_hypertension"`
	SmokingStatus          string  `json:"smoking_status"`
	FamilyHistory          bool    `json:"family_history"`
}

// DefaultRecord returns the record a new session starts from
func DefaultRecord() ClinicalRecord {
	return ClinicalRecord{
		Age:                    45,
		Gender:                 GenderMale,
		BMI:                    27.5,
		HbA1c:                  7.5,
		BloodGlucose:           140,
		BloodPressureSystolic:  130,
		BloodPressureDiastolic: 85,
		DiabetesDuration:       5,
		Creatinine:             1.1,
		CholesterolTotal:       200,
		CholesterolLDL:         130,
		CholesterolHDL:         45,
		Triglycerides:          150,
		HasHypertension:        false,
		SmokingStatus:          SmokingNever,
		FamilyHistory:          true,
	}
}
