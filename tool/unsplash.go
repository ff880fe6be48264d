package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const unsplashBaseURL = "https://api.unsplash.com"

// UnsplashProvider validates an Unsplash access key and exposes photo search
type UnsplashProvider struct {
	client *unsplashClient
}

func NewUnsplashProvider(accessKey string) (*UnsplashProvider, error) {
	if strings.TrimSpace(accessKey) == "" {
		return nil, fmt.Errorf("%w: access key must not be empty", ErrInvalidCredentials)
	}
	return &UnsplashProvider{client: newUnsplashClient(accessKey)}, nil
}

func (p *UnsplashProvider) Name() string { return "unsplash" }

// Validate probes the search endpoint with a one-result query
func (p *UnsplashProvider) Validate(ctx context.Context) error {
	_, err := p.client.searchPhotos(ctx, "nature", 1)
	return err
}

func (p *UnsplashProvider) Tools() []Tool {
	return []Tool{&UnsplashSearchTool{client: p.client}}
}

type unsplashClient struct {
	baseURL    string
	accessKey  string
	httpClient *retryablehttp.Client
}

func newUnsplashClient(accessKey string) *unsplashClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = log.WithField("tool", "unsplash")

	return &unsplashClient{
		baseURL:    unsplashBaseURL,
		accessKey:  accessKey,
		httpClient: client,
	}
}

type unsplashPhoto struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	AltDescription string `json:"alt_description"`
	Likes          int    `json:"likes"`
	URLs           struct {
		Regular string `json:"regular"`
		Small   string `json:"small"`
	} `json:"urls"`
	Links struct {
		HTML string `json:"html"`
	} `json:"links"`
	User struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"user"`
}

type unsplashSearchResponse struct {
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
	Results    []unsplashPhoto `json:"results"`
}

func (c *unsplashClient) searchPhotos(ctx context.Context, query string, perPage int) (*unsplashSearchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(perPage))

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", c.baseURL+"/search/photos?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.accessKey)
	req.Header.Set("Accept-Version", "v1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Unsplash request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var search unsplashSearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&search); err != nil {
			return nil, fmt.Errorf("error decoding Unsplash response: %w", err)
		}
		return &search, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: Unsplash rejected the access key", ErrInvalidCredentials)
	case http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if retryAfter == 0 {
			retryAfter = 60
		}
		return nil, &RateLimitError{RetryAfterSeconds: retryAfter}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("Unsplash API error: HTTP %d %s", resp.StatusCode, string(body))
	}
}

// UnsplashSearchTool searches photos with the configured access key
type UnsplashSearchTool struct {
	client *unsplashClient
}

func (t *UnsplashSearchTool) Name() string { return "unsplash_search" }

func (t *UnsplashSearchTool) Invoke(ctx context.Context, params Params) ([]Message, error) {
	query := strings.TrimSpace(params.GetString("query", ""))
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidParams)
	}
	perPage := params.GetInt("per_page", 10)
	if perPage > 30 {
		perPage = 30
	}
	if perPage < 1 {
		perPage = 1
	}

	search, err := t.client.searchPhotos(ctx, query, perPage)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Unsplash photos for %q\n\n", query)
	fmt.Fprintf(&sb, "**Total matches**: %d\n\n", search.Total)
	for i, photo := range search.Results {
		description := firstNonEmptyString(photo.Description, photo.AltDescription, "untitled")
		fmt.Fprintf(&sb, "**%d. %s**\n", i+1, description)
		fmt.Fprintf(&sb, "   - by %s (@%s), %d likes\n", photo.User.Name, photo.User.Username, photo.Likes)
		fmt.Fprintf(&sb, "   - %s\n\n", photo.Links.HTML)
	}

	return []Message{
		textMessage(fmt.Sprintf("Searching Unsplash for %q...", query)),
		variableMessage("photos", search.Results),
		variableMessage("search_summary", map[string]interface{}{
			"query":       query,
			"total":       search.Total,
			"total_pages": search.TotalPages,
			"returned":    len(search.Results),
		}),
		textMessage(sb.String()),
	}, nil
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
