package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"terraguard/internal/dataset"
	"terraguard/internal/model"
)

// Record is one persisted simulation step.
type Record struct {
	ID           int64        `json:"id" db:"id"`
	Timestamp    time.Time    `json:"timestamp" db:"timestamp"`
	Mode         model.Mode   `json:"mode" db:"mode"`
	RawRow       dataset.Row  `json:"raw_row" db:"raw_row"`
	ModelOutput  model.Output `json:"model_output" db:"model_output"`
	HazardLevel  int          `json:"hazard_level" db:"hazard_level"`
	AlertMessage string       `json:"alert_message" db:"alert_message"`
}

// encodePayload renders the JSON columns. Non-finite numbers become null.
func encodePayload(rec *Record) (raw, out []byte, err error) {
	raw, err = json.Marshal(rec.RawRow)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding raw row: %w", err)
	}
	out, err = json.Marshal(rec.ModelOutput)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding model output: %w", err)
	}
	return raw, out, nil
}

func decodePayload(rec *Record, raw, out []byte) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.RawRow); err != nil {
			return fmt.Errorf("decoding raw row of record %d: %w", rec.ID, err)
		}
	}
	if len(out) > 0 {
		if err := json.Unmarshal(out, &rec.ModelOutput); err != nil {
			return fmt.Errorf("decoding model output of record %d: %w", rec.ID, err)
		}
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	return limit
}
