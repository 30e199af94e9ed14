package demo

import (
	"time"

	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/prediction"
)

// ServedPrediction is one answered request, as archived and audited
type ServedPrediction struct {
	RequestID string                `json:"request_id,omitempty"`
	Record    intake.ClinicalRecord `json:"record"`
	Result    *prediction.Result    `json:"result"`
	ServedAt  time.Time             `json:"served_at"`
}
