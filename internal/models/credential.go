package models

import "time"

// CredentialMetadata is the non-secret sidecar describing a vault entry.
// It is the only thing Vault.List and Vault.Metadata ever return — the
// encrypted blob itself is never touched by a metadata read.
type CredentialMetadata struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"name"`
	SourceBrowser  string    `json:"source,omitempty"`
	CoveredDomains []string  `json:"domains,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
