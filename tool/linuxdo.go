package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"gorm.io/gorm"
)

const (
	linuxDoConnectBaseURL = "https://connect.linux.do/api"
	linuxDoForumBaseURL   = "https://linux.do"
	linuxDoTimeout        = 15 * time.Second
)

// linuxDoClient talks to the LinuxDo Connect API. Requests carry Basic auth
// from the client pair and the api_key as a query parameter.
type linuxDoClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	apiKey       string
	httpClient   *retryablehttp.Client
}

func newLinuxDoClient(clientID, clientSecret, apiKey string) *linuxDoClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = linuxDoTimeout
	client.Logger = log.WithField("tool", "linuxdo")

	return &linuxDoClient{
		baseURL:      linuxDoConnectBaseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		apiKey:       apiKey,
		httpClient:   client,
	}
}

func (c *linuxDoClient) authHeader() string {
	pair := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	return "Basic " + pair
}

// getJSON performs an authenticated GET against the Connect API. The api_key
// always rides along as a query parameter.
func (c *linuxDoClient) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	requestURL := c.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
	if encoded := params.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "slate-connect/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to LinuxDo Connect failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: client ID or client secret is wrong", ErrInvalidCredentials)
	case http.StatusForbidden:
		return fmt.Errorf("%w: API key is invalid or expired", ErrInvalidCredentials)
	case http.StatusNotFound:
		return fmt.Errorf("API endpoint %q does not exist", endpoint)
	case http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if retryAfter == 0 {
			retryAfter = 60
		}
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("LinuxDo Connect error: HTTP %d %s", resp.StatusCode, string(body))
	}
}

// linuxDoUser is the `key` endpoint payload
type linuxDoUser struct {
	UserID     int    `json:"user_id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url"`
	Email      string `json:"email"`
	Bio        string `json:"bio"`
	TrustLevel int    `json:"trust_level"`
	Active     bool   `json:"active"`
	Admin      bool   `json:"admin"`
	Moderator  bool   `json:"moderator"`
	Silenced   bool   `json:"silenced"`
	LastSeenAt string `json:"last_seen_at"`
	CreatedAt  string `json:"created_at"`
	Timestamp  int64  `json:"timestamp"`
}

// userInfo resolves the api_key to its owning user. extra asks the endpoint
// for the full profile.
func (c *linuxDoClient) userInfo(ctx context.Context, extra bool) (*linuxDoUser, error) {
	params := url.Values{}
	if extra {
		params.Set("extra", "true")
	}
	var user linuxDoUser
	if err := c.getJSON(ctx, "key", params, &user); err != nil {
		return nil, err
	}
	if user.UserID == 0 {
		return nil, fmt.Errorf("%w: key endpoint returned no user ID", ErrInvalidCredentials)
	}
	return &user, nil
}

// LinuxDoProvider bundles the LinuxDo Connect credential set and its tools
type LinuxDoProvider struct {
	client *linuxDoClient
	forum  *forumClient
	db     *gorm.DB
}

// NewLinuxDoProvider validates the credential shape and builds the provider.
// db backs the check-in ledger and may be nil when check-in is not used.
func NewLinuxDoProvider(clientID, clientSecret, apiKey string, db *gorm.DB) (*LinuxDoProvider, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client ID must not be empty", ErrInvalidCredentials)
	}
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: client secret must not be empty", ErrInvalidCredentials)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key must not be empty", ErrInvalidCredentials)
	}
	return &LinuxDoProvider{
		client: newLinuxDoClient(clientID, clientSecret, apiKey),
		forum:  newForumClient(linuxDoForumBaseURL),
		db:     db,
	}, nil
}

func (p *LinuxDoProvider) Name() string { return "linuxdo" }

// Validate probes the key endpoint and checks a user ID comes back
func (p *LinuxDoProvider) Validate(ctx context.Context) error {
	user, err := p.client.userInfo(ctx, false)
	if err != nil {
		return err
	}
	log.WithField("user_id", user.UserID).Info("LinuxDo Connect credentials validated")
	return nil
}

// Tools returns the tools backed by this credential set
func (p *LinuxDoProvider) Tools() []Tool {
	return []Tool{
		&LinuxDoAccountTool{client: p.client},
		&LinuxDoCheckinTool{client: p.client, db: p.db},
		&LinuxDoSearchTool{forum: p.forum},
		&LinuxDoRecommendTool{client: p.client, forum: p.forum},
	}
}

// LinuxDoAccountTool resolves the configured API key to its account info
type LinuxDoAccountTool struct {
	client *linuxDoClient
}

func (t *LinuxDoAccountTool) Name() string { return "linuxdo_account" }

func (t *LinuxDoAccountTool) Invoke(ctx context.Context, params Params) ([]Message, error) {
	includeExtra := params.GetBool("include_extra_info", true)
	verifyOnly := params.GetBool("verify_only", false)
	if verifyOnly {
		includeExtra = false
	}

	messages := []Message{textMessage("Verifying LinuxDo Connect credentials...")}

	user, err := t.client.userInfo(ctx, includeExtra)
	if err != nil {
		messages = append(messages, variableMessage("verification_result", map[string]interface{}{
			"status":        "error",
			"api_key_valid": false,
			"message":       err.Error(),
		}))
		return messages, fmt.Errorf("failed to fetch LinuxDo account info: %w", err)
	}

	messages = append(messages, textMessage(fmt.Sprintf("Authentication succeeded, user ID: %d", user.UserID)))

	if verifyOnly {
		messages = append(messages,
			variableMessage("verification_result", map[string]interface{}{
				"status":        "success",
				"user_id":       user.UserID,
				"api_key_valid": true,
				"message":       "API key verified",
			}),
			textMessage("API key is valid, connection OK"),
		)
		return messages, nil
	}

	summary, err := renderAccountSummary(user, includeExtra)
	if err != nil {
		return nil, fmt.Errorf("error rendering account summary: %w", err)
	}

	messages = append(messages,
		variableMessage("user_info", user),
		textMessage(summary),
	)
	return messages, nil
}
