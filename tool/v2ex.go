package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const v2exBaseURL = "https://www.v2ex.com/api"

var v2exNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// V2exProvider exposes the keyless V2EX public API
type V2exProvider struct {
	client *v2exClient
}

func NewV2exProvider() *V2exProvider {
	return &V2exProvider{client: newV2exClient()}
}

func (p *V2exProvider) Name() string { return "v2ex" }

// Validate checks the public API is reachable. There is no credential to test.
func (p *V2exProvider) Validate(ctx context.Context) error {
	_, err := p.client.hotTopics(ctx)
	return err
}

func (p *V2exProvider) Tools() []Tool {
	return []Tool{&V2exTool{client: p.client}}
}

type v2exClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

func newV2exClient() *v2exClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = log.WithField("tool", "v2ex")

	return &v2exClient{baseURL: v2exBaseURL, httpClient: client}
}

func (c *v2exClient) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	requestURL := c.baseURL + "/" + endpoint
	if params != nil {
		requestURL += "?" + params.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "slate-connect/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("V2EX request failed: %w", err)
	}
	defer resp.Body.Close()

	if remaining := resp.Header.Get("X-Rate-Limit-Remaining"); remaining != "" {
		if n, perr := strconv.Atoi(remaining); perr == nil && n < 10 {
			log.WithField("remaining", n).Warn("V2EX API rate limit is running low")
		}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusNotFound:
		return fmt.Errorf("requested V2EX resource does not exist")
	case http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if retryAfter == 0 {
			retryAfter = 60
		}
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("V2EX API error: HTTP %d %s", resp.StatusCode, string(body))
	}
}

type v2exNode struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Title            string `json:"title"`
	TitleAlternative string `json:"title_alternative"`
	Topics           int    `json:"topics"`
	Header           string `json:"header"`
	Footer           string `json:"footer"`
	AvatarLarge      string `json:"avatar_large"`
	AvatarNormal     string `json:"avatar_normal"`
	Created          int64  `json:"created"`
}

type v2exMember struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	Website      string `json:"website"`
	Twitter      string `json:"twitter"`
	GitHub       string `json:"github"`
	Location     string `json:"location"`
	Tagline      string `json:"tagline"`
	Bio          string `json:"bio"`
	AvatarLarge  string `json:"avatar_large"`
	AvatarNormal string `json:"avatar_normal"`
	Created      int64  `json:"created"`
	Status       string `json:"status"`
}

type v2exTopic struct {
	ID           int         `json:"id"`
	Title        string      `json:"title"`
	Content      string      `json:"content"`
	Replies      int         `json:"replies"`
	Created      int64       `json:"created"`
	LastModified int64       `json:"last_modified"`
	Node         *v2exNode   `json:"node"`
	Member       *v2exMember `json:"member"`
}

func (t v2exTopic) url() string {
	return fmt.Sprintf("https://www.v2ex.com/t/%d", t.ID)
}

func (c *v2exClient) hotTopics(ctx context.Context) ([]v2exTopic, error) {
	var topics []v2exTopic
	err := c.getJSON(ctx, "topics/hot.json", nil, &topics)
	return topics, err
}

func (c *v2exClient) latestTopics(ctx context.Context) ([]v2exTopic, error) {
	var topics []v2exTopic
	err := c.getJSON(ctx, "topics/latest.json", nil, &topics)
	return topics, err
}

func (c *v2exClient) nodeInfo(ctx context.Context, name string) (*v2exNode, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: node name must not be empty", ErrInvalidParams)
	}
	if !v2exNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: node name may only contain letters, digits, underscores and hyphens", ErrInvalidParams)
	}

	params := url.Values{}
	params.Set("name", name)
	var node v2exNode
	if err := c.getJSON(ctx, "nodes/show.json", params, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// memberInfo resolves a numeric query as a user ID and anything else as a
// username
func (c *v2exClient) memberInfo(ctx context.Context, query string) (*v2exMember, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: username or user ID must not be empty", ErrInvalidParams)
	}

	params := url.Values{}
	if _, err := strconv.Atoi(query); err == nil {
		params.Set("id", query)
	} else {
		if !v2exNameRe.MatchString(query) {
			return nil, fmt.Errorf("%w: username may only contain letters, digits, underscores and hyphens", ErrInvalidParams)
		}
		params.Set("username", query)
	}

	var member v2exMember
	if err := c.getJSON(ctx, "members/show.json", params, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// filterTopicsByKeyword keeps topics whose title, content or node mention the
// keyword
func filterTopicsByKeyword(topics []v2exTopic, keyword string) []v2exTopic {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return topics
	}

	var filtered []v2exTopic
	for _, topic := range topics {
		nodeName, nodeTitle := "", ""
		if topic.Node != nil {
			nodeName = topic.Node.Name
			nodeTitle = topic.Node.Title
		}
		if strings.Contains(strings.ToLower(topic.Title), keyword) ||
			strings.Contains(strings.ToLower(topic.Content), keyword) ||
			strings.Contains(strings.ToLower(nodeName), keyword) ||
			strings.Contains(strings.ToLower(nodeTitle), keyword) {
			filtered = append(filtered, topic)
		}
	}
	return filtered
}

// V2exTool queries hot/latest topics, node info and member info
type V2exTool struct {
	client *v2exClient
}

func (t *V2exTool) Name() string { return "v2ex_search" }

func (t *V2exTool) Invoke(ctx context.Context, params Params) ([]Message, error) {
	searchType := params.GetString("search_type", "")
	query := strings.TrimSpace(params.GetString("search_query", ""))
	limit := params.GetInt("limit", 10)
	if limit > 50 {
		limit = 50
	}
	if limit < 1 {
		limit = 1
	}

	messages := []Message{textMessage("Searching V2EX: " + searchType)}

	switch searchType {
	case "hot_topics", "latest_topics":
		var topics []v2exTopic
		var err error
		heading := "V2EX hot topics"
		if searchType == "hot_topics" {
			topics, err = t.client.hotTopics(ctx)
		} else {
			topics, err = t.client.latestTopics(ctx)
			heading = "V2EX latest topics"
		}
		if err != nil {
			return nil, err
		}
		if len(topics) > limit {
			topics = topics[:limit]
		}
		if query != "" {
			topics = filterTopicsByKeyword(topics, query)
			messages = append(messages, textMessage(fmt.Sprintf("Filtering topics by keyword %q", query)))
		}

		messages = append(messages,
			textMessage(fmt.Sprintf("Found %d topics", len(topics))),
			variableMessage("search_results", topics),
			textMessage(renderTopicSummary(heading, topics)),
		)
		return messages, nil

	case "node_info":
		if query == "" {
			return nil, fmt.Errorf("%w: node info requires a node name", ErrInvalidParams)
		}
		node, err := t.client.nodeInfo(ctx, query)
		if err != nil {
			return nil, err
		}
		messages = append(messages,
			textMessage("Found node: "+node.Title),
			variableMessage("search_results", node),
			textMessage(renderNodeSummary(node)),
		)
		return messages, nil

	case "user_info":
		if query == "" {
			return nil, fmt.Errorf("%w: user info requires a username or user ID", ErrInvalidParams)
		}
		member, err := t.client.memberInfo(ctx, query)
		if err != nil {
			return nil, err
		}
		messages = append(messages,
			textMessage("Found user: "+member.Username),
			variableMessage("search_results", member),
			textMessage(renderMemberSummary(member)),
		)
		return messages, nil

	default:
		return nil, fmt.Errorf("%w: unsupported search type %q", ErrInvalidParams, searchType)
	}
}

func renderTopicSummary(heading string, topics []v2exTopic) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", heading)
	for i, topic := range topics {
		fmt.Fprintf(&sb, "## %d. %s\n", i+1, topic.Title)
		fmt.Fprintf(&sb, "- **Link**: %s\n", topic.url())
		fmt.Fprintf(&sb, "- **Replies**: %d\n", topic.Replies)
		if topic.Node != nil {
			fmt.Fprintf(&sb, "- **Node**: %s (%s)\n", topic.Node.Title, topic.Node.Name)
		}
		if topic.Member != nil {
			fmt.Fprintf(&sb, "- **Author**: %s\n", topic.Member.Username)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderNodeSummary(node *v2exNode) string {
	var sb strings.Builder
	sb.WriteString("# V2EX node\n\n")
	fmt.Fprintf(&sb, "## %s\n", node.Title)
	fmt.Fprintf(&sb, "- **Name**: %s\n", node.Name)
	fmt.Fprintf(&sb, "- **Link**: https://www.v2ex.com/go/%s\n", node.Name)
	fmt.Fprintf(&sb, "- **Topics**: %d\n", node.Topics)
	if node.TitleAlternative != "" {
		fmt.Fprintf(&sb, "- **Alternative title**: %s\n", node.TitleAlternative)
	}
	if node.Header != "" {
		fmt.Fprintf(&sb, "- **Description**: %s\n", strings.TrimSpace(node.Header))
	}
	return sb.String()
}

func renderMemberSummary(member *v2exMember) string {
	var sb strings.Builder
	sb.WriteString("# V2EX user\n\n")
	fmt.Fprintf(&sb, "## %s\n", member.Username)
	fmt.Fprintf(&sb, "- **Link**: https://www.v2ex.com/u/%s\n", member.Username)
	optional := []struct{ label, value string }{
		{"Tagline", member.Tagline},
		{"Bio", member.Bio},
		{"Location", member.Location},
		{"Website", member.Website},
		{"GitHub", member.GitHub},
		{"Twitter", member.Twitter},
	}
	for _, field := range optional {
		if v := strings.TrimSpace(field.value); v != "" {
			fmt.Fprintf(&sb, "- **%s**: %s\n", field.label, v)
		}
	}
	return sb.String()
}
