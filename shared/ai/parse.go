package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"dlevel-stack/internal/errs"
	"dlevel-stack/internal/models"
)

// StripFences removes every markdown code fence from a model response.
func StripFences(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}

// ParseAnalysis decodes a fenced or bare JSON analysis. Any failure is an
// InvalidResponseFormat error.
func ParseAnalysis(response string) (*models.AnalysisRecord, error) {
	cleaned := StripFences(response)
	if cleaned == "" {
		return nil, errs.InvalidResponse(fmt.Errorf("empty response"))
	}

	if !strings.HasPrefix(cleaned, "{") {
		return nil, errs.InvalidResponse(fmt.Errorf("response is not a JSON object"))
	}

	var record models.AnalysisRecord
	if err := json.Unmarshal([]byte(cleaned), &record); err != nil {
		return nil, errs.InvalidResponse(fmt.Errorf("failed to unmarshal JSON: %w", err))
	}
	return &record, nil
}
