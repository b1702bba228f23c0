package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewBatchID generates a unique batch ID with the "batch_" prefix.
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}

// NewCredentialID generates a unique credential ID with the "cred_" prefix.
func NewCredentialID() string {
	return "cred_" + uuid.New().String()
}

// NewCorrelationID generates a request correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}
