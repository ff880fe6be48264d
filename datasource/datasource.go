package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the datasource package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

var (
	// ErrInvalidCredentials indicates the remote service rejected the configured credentials
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound indicates the requested container, blob or page does not exist
	ErrNotFound = errors.New("not found")
)

// RateLimitError is returned when the remote API throttles us
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

// Credentials holds the opaque secret strings an operator pasted into the
// provider configuration. Values are never logged in full.
type Credentials map[string]string

// Get returns the value for key, or "" if unset
func (c Credentials) Get(key string) string {
	return c[key]
}

// GetDefault returns the value for key, or def if unset or empty
func (c Credentials) GetDefault(key, def string) string {
	if v := c[key]; v != "" {
		return v
	}
	return def
}

// File is a single entry returned while browsing an online drive
type File struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Size     int64             `json:"size"`
	Type     string            `json:"type"` // "file" or "folder"
	Metadata map[string]string `json:"metadata,omitempty"`
}

// BrowseRequest asks for one page of an online drive listing
type BrowseRequest struct {
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	MaxKeys   int    `json:"max_keys"`
	PageToken string `json:"page_token"`
}

// BrowseResponse is one page of an online drive listing
type BrowseResponse struct {
	Bucket        string `json:"bucket"`
	Files         []File `json:"files"`
	Truncated     bool   `json:"truncated"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// DownloadRequest identifies a file to download. The ID format is
// provider-specific; for azure_blob it is "container/blob_path".
type DownloadRequest struct {
	FileID string `json:"file_id"`
}

// Chunk is a piece of downloaded file content. Partial marks intermediate
// flushes of very large files; the final chunk has Partial=false.
type Chunk struct {
	Data    []byte
	Partial bool
}

// FileInfo describes a downloaded file
type FileInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// OnlineDrive is a datasource exposing bucket/file browsing and downloads
type OnlineDrive interface {
	Validate(ctx context.Context) error
	BrowseFiles(ctx context.Context, req BrowseRequest) (*BrowseResponse, error)
	DownloadFile(ctx context.Context, req DownloadRequest, emit func(Chunk) error) (*FileInfo, error)
}

// Page is a single entry of an online document workspace
type Page struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Type     string            `json:"type"`
	URL      string            `json:"url,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PagesResponse enumerates the pages of an online document workspace
type PagesResponse struct {
	WorkspaceName string `json:"workspace_name"`
	WorkspaceID   string `json:"workspace_id"`
	Pages         []Page `json:"pages"`
	Total         int    `json:"total"`
}

// PageContent is the rendered markdown content of a single page
type PageContent struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Type     string            `json:"type"`
	Markdown string            `json:"markdown"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OnlineDocument is a datasource exposing page enumeration and content
type OnlineDocument interface {
	Validate(ctx context.Context) error
	GetPages(ctx context.Context) (*PagesResponse, error)
	GetPageContent(ctx context.Context, pageID string) (*PageContent, error)
}
