package utils

import "github.com/google/uuid"

// GenerateRunID returns a new random identifier for a pipeline run.
func GenerateRunID() string {
	return uuid.NewString()
}
