package main

import (
	"strings"
	"time"

	"slate-connect/tool"
)

// ProviderInfo describes one connector in the catalog and whether the
// operator has pasted credentials for it yet.
type ProviderInfo struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"` // "online_drive", "online_document" or "tool"
	Configured     bool     `json:"configured"`
	CredentialKeys []string `json:"credential_keys"`
}

// SaveCredentialsRequest is the request payload for PUT /providers/:provider/credentials
type SaveCredentialsRequest struct {
	Credentials map[string]string `json:"credentials"`
}

// CredentialsResponse returns stored credentials with every value masked
type CredentialsResponse struct {
	Provider    string            `json:"provider"`
	Credentials map[string]string `json:"credentials"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ValidationResponse is the outcome of a credential validation run
type ValidationResponse struct {
	Provider  string    `json:"provider"`
	Valid     bool      `json:"valid"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// SubmitDownloadRequest is the request payload for POST /providers/:provider/download
type SubmitDownloadRequest struct {
	FileID string `json:"file_id"`
}

// InvokeToolRequest is the request payload for POST /tools/:provider/:tool/invoke
type InvokeToolRequest struct {
	Params tool.Params `json:"params"`
}

// InvokeToolResponse carries the tool's message stream
type InvokeToolResponse struct {
	Provider string         `json:"provider"`
	Tool     string         `json:"tool"`
	Messages []tool.Message `json:"messages"`
}

// JobResponse is the API shape of a download job
type JobResponse struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	FileID      string    `json:"file_id"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	BytesDone   int64     `json:"bytes_done"`
	TotalBytes  int64     `json:"total_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// maskSecret hides all but a short prefix of a credential value. Short
// values are fully masked.
func maskSecret(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:6] + strings.Repeat("*", 6)
}

func maskCredentials(creds map[string]string) map[string]string {
	masked := make(map[string]string, len(creds))
	for k, v := range creds {
		masked[k] = maskSecret(v)
	}
	return masked
}
