package residuals

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteFile serializes the residual records to a JSON artifact. A stale
// artifact at the same path is removed first, so a run that later fails
// cannot leave an outdated file behind posing as a fresh result.
func WriteFile(path string, records map[string]*ImageGroup) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale artifact '%s': %w", path, err)
	}

	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode residuals: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write '%s': %w", path, err)
	}
	return nil
}

// ReadFile loads a residual artifact written by WriteFile.
func ReadFile(path string) (map[string]*ImageGroup, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read '%s': %w", path, err)
	}
	var records map[string]*ImageGroup
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("decode '%s': %w", path, err)
	}
	return records, nil
}
