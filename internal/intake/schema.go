package intake

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind is the declared type of a record field
type Kind string

const (
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
)

// numberRule constrains a numeric field
type numberRule struct {
	min          float64
	minExclusive bool
	max          float64 // 0 means unbounded
	whole        bool
}

// check returns a human-readable reason alongside the failing sentinel
func (r numberRule) check(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "not finite", ErrInvalidNumber
	}
	if r.minExclusive && v <= r.min {
		return "must be > " + formatFloat(r.min), ErrOutOfRange
	}
	if !r.minExclusive && v < r.min {
		return "must be >= " + formatFloat(r.min), ErrOutOfRange
	}
	if r.max > 0 && v > r.max {
		return "must be <= " + formatFloat(r.max), ErrOutOfRange
	}
	if r.whole && v != math.Trunc(v) {
		return "", ErrNotWhole
	}
	return "", nil
}

var (
	positive      = numberRule{min: 0, minExclusive: true}
	nonNegative   = numberRule{min: 0}
	wholeNonNeg   = numberRule{min: 0, whole: true}
	ageRule       = numberRule{min: 0, minExclusive: true, max: 120, whole: true}
	genderValues  = []string{GenderMale, GenderFemale}
	smokingValues = []string{SmokingNever, SmokingFormer, SmokingCurrent}
)

// fieldCodec parses raw input for one field, validates it and stores it
type fieldCodec struct {
	name    string
	kind    Kind
	allowed []string
	// parse coerces raw input and validates it
	parse func(raw any) (any, *ValidationError)
	// check validates a value already held by a record
	check func(r *ClinicalRecord) *ValidationError
	set   func(r *ClinicalRecord, v any)
	get   func(r *ClinicalRecord) any
}

func numberField(name string, rule numberRule, ptr func(r *ClinicalRecord) *float64) fieldCodec {
	validate := func(raw any, v float64) *ValidationError {
		if reason, cause := rule.check(v); cause != nil {
			return &ValidationError{Field: name, Value: raw, Cause: cause, Reason: reason}
		}
		return nil
	}
	return fieldCodec{
		name: name,
		kind: KindNumber,
		parse: func(raw any) (any, *ValidationError) {
			v, ok := toFloat(raw)
			if !ok {
				return nil, &ValidationError{Field: name, Value: raw, Cause: ErrInvalidNumber}
			}
			if verr := validate(raw, v); verr != nil {
				return nil, verr
			}
			return v, nil
		},
		check: func(r *ClinicalRecord) *ValidationError {
			v := *ptr(r)
			return validate(v, v)
		},
		set: func(r *ClinicalRecord, v any) { *ptr(r) = v.(float64) },
		get: func(r *ClinicalRecord) any { return *ptr(r) },
	}
}

func boolField(name string, ptr func(r *ClinicalRecord) *bool) fieldCodec {
	return fieldCodec{
		name: name,
		kind: KindBoolean,
		parse: func(raw any) (any, *ValidationError) {
			switch v := raw.(type) {
			case bool:
				return v, nil
			case string:
				switch strings.TrimSpace(v) {
				case "true":
					return true, nil
				case "false":
					return false, nil
				}
			}
			return nil, &ValidationError{Field: name, Value: raw, Cause: ErrInvalidBool}
		},
		check: func(r *ClinicalRecord) *ValidationError { return nil },
		set:   func(r *ClinicalRecord, v any) { *ptr(r) = v.(bool) },
		get:   func(r *ClinicalRecord) any { return *ptr(r) },
	}
}

func enumField(name string, allowed []string, ptr func(r *ClinicalRecord) *string) fieldCodec {
	validate := func(raw any, s string) *ValidationError {
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return &ValidationError{
			Field:  name,
			Value:  raw,
			Cause:  ErrInvalidEnum,
			Reason: "one of " + strings.Join(allowed, ", "),
		}
	}
	return fieldCodec{
		name:    name,
		kind:    KindEnum,
		allowed: allowed,
		parse: func(raw any) (any, *ValidationError) {
			s, ok := raw.(string)
			if !ok {
				return nil, validate(raw, "")
			}
			s = strings.TrimSpace(s)
			if verr := validate(raw, s); verr != nil {
				return nil, verr
			}
			return s, nil
		},
		check: func(r *ClinicalRecord) *ValidationError {
			return validate(*ptr(r), *ptr(r))
		},
		set: func(r *ClinicalRecord, v any) { *ptr(r) = v.(string) },
		get: func(r *ClinicalRecord) any { return *ptr(r) },
	}
}

// schema lists every record field in wire order
var schema = []fieldCodec{
	numberField("age", ageRule, func(r *ClinicalRecord) *float64 { return &r.Age }),
	enumField("gender", genderValues, func(r *ClinicalRecord) *string { return &r.Gender }),
	numberField("bmi", positive, func(r *ClinicalRecord) *float64 { return &r.BMI }),
	numberField("hba1c", positive, func(r *ClinicalRecord) *float64 { return &r.HbA1c }),
	numberField("blood_glucose", nonNegative, func(r *ClinicalRecord) *float64 { return &r.BloodGlucose }),
	numberField("blood_pressure_systolic", wholeNonNeg, func(r *ClinicalRecord) *float64 { return &r.BloodPressureSystolic }),
	numberField("blood_pressure_diastolic", wholeNonNeg, func(r *ClinicalRecord) *float64 { return &r.BloodPressureDiastolic }),
	numberField("diabetes_duration", wholeNonNeg, func(r *ClinicalRecord) *float64 { return &r.DiabetesDuration }),
	numberField("creatinine", nonNegative, func(r *ClinicalRecord) *float64 { return &r.Creatinine }),
	numberField("cholesterol_total", nonNegative, func(r *ClinicalRecord) *float64 { return &r.CholesterolTotal }),
	numberField("cholesterol_ldl", nonNegative, func(r *ClinicalRecord) *float64 { return &r.CholesterolLDL }),
	numberField("cholesterol_hdl", nonNegative, func(r *ClinicalRecord) *float64 { return &r.CholesterolHDL }),
	numberField("triglycerides", nonNegative, func(r *ClinicalRecord) *float64 { return &r.Triglycerides }),
	boolField("has_hypertension", func(r *ClinicalRecord) *bool { return &r.HasHypertension }),
	enumField("smoking_status", smokingValues, func(r *ClinicalRecord) *string { return &r.SmokingStatus }),
	boolField("family_history", func(r *ClinicalRecord) *bool { return &r.FamilyHistory }),
}

var schemaByName = func() map[string]*fieldCodec {
	m := make(map[string]*fieldCodec, len(schema))
	for i := range schema {
		m[schema[i].name] = &schema[i]
	}
	return m
}()

// Validate checks every field of a record against its declared constraints.
// It returns the first failure in wire order.
func Validate(r ClinicalRecord) error {
	for i := range schema {
		if verr := schema[i].check(&r); verr != nil {
			return verr
		}
	}
	return nil
}

// FieldInfo describes one record field
type FieldInfo struct {
	Name    string
	Kind    Kind
	Allowed []string
	Value   any
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
