package dto

import "time"

// StatementRequest captures the caller's retrieval options.
type StatementRequest struct {
	OutputPath string `json:"outputPath"`
	StartDate  string `json:"startDate,omitempty" validate:"omitempty,flexdate"`
	EndDate    string `json:"endDate,omitempty" validate:"omitempty,flexdate"`

	// Wait overrides the configured generation wait when set. Zero skips the pause.
	Wait *time.Duration `json:"wait,omitempty" validate:"omitempty,gte=0"`
}
