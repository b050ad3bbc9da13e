package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]{0,127}$`)

// BuildTranscriptPath returns sessions/<id>/transcript.json.
func BuildTranscriptPath(sessionID string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	return path.Join("sessions", sessionID, "transcript.json"), nil
}

// BuildTurnResultPath returns sessions/<id>/turn-<n>.parquet.
func BuildTurnResultPath(sessionID string, turn int) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	if turn < 1 {
		return "", fmt.Errorf("turn must be >= 1")
	}
	return path.Join("sessions", sessionID, fmt.Sprintf("turn-%d.parquet", turn)), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
