package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// forumClient reads the public Discourse endpoints of the forum. These need
// no credentials; the Connect key only gates the Connect API itself.
type forumClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

func newForumClient(baseURL string) *forumClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = linuxDoTimeout
	client.Logger = log.WithField("tool", "linuxdo_forum")

	return &forumClient{baseURL: baseURL, httpClient: client}
}

func (c *forumClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	requestURL := c.baseURL + path
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
		return fmt.Errorf("forum request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if retryAfter == 0 {
			retryAfter = 60
		}
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("forum error: HTTP %d %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type forumTopic struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	Excerpt    string `json:"excerpt"`
	CreatedAt  string `json:"created_at"`
	Views      int    `json:"views"`
	PostsCount int    `json:"posts_count"`
	ReplyCount int    `json:"reply_count"`
	CategoryID int    `json:"category_id"`
	LikeCount  int    `json:"like_count"`
}

type forumPost struct {
	ID        int    `json:"id"`
	TopicID   int    `json:"topic_id"`
	Username  string `json:"username"`
	Blurb     string `json:"blurb"`
	CreatedAt string `json:"created_at"`
	LikeCount int    `json:"like_count"`
}

type forumCategory struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	DescriptionText string `json:"description_text"`
	TopicCount      int    `json:"topic_count"`
	PostCount       int    `json:"post_count"`
}

type forumUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Title    string `json:"title"`
}

type forumSearchResponse struct {
	Posts  []forumPost  `json:"posts"`
	Topics []forumTopic `json:"topics"`
}

func (c *forumClient) search(ctx context.Context, query string) (*forumSearchResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	var resp forumSearchResponse
	if err := c.getJSON(ctx, "/search.json", params, &resp); err != nil {
		return nil, fmt.Errorf("forum search failed: %w", err)
	}
	return &resp, nil
}

func (c *forumClient) topTopics(ctx context.Context) ([]forumTopic, error) {
	var resp struct {
		TopicList struct {
			Topics []forumTopic `json:"topics"`
		} `json:"topic_list"`
	}
	if err := c.getJSON(ctx, "/top.json", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch top topics: %w", err)
	}
	return resp.TopicList.Topics, nil
}

func (c *forumClient) categories(ctx context.Context) ([]forumCategory, error) {
	var resp struct {
		CategoryList struct {
			Categories []forumCategory `json:"categories"`
		} `json:"category_list"`
	}
	if err := c.getJSON(ctx, "/categories.json", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch categories: %w", err)
	}
	return resp.CategoryList.Categories, nil
}

// activeUsers returns this week's most liked users from the public directory
func (c *forumClient) activeUsers(ctx context.Context) ([]forumUser, error) {
	params := url.Values{}
	params.Set("period", "weekly")
	params.Set("order", "likes_received")
	var resp struct {
		DirectoryItems []struct {
			User forumUser `json:"user"`
		} `json:"directory_items"`
	}
	if err := c.getJSON(ctx, "/directory_items.json", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch user directory: %w", err)
	}
	users := make([]forumUser, 0, len(resp.DirectoryItems))
	for _, item := range resp.DirectoryItems {
		users = append(users, item.User)
	}
	return users, nil
}

func (c *forumClient) topicURL(t forumTopic) string {
	return fmt.Sprintf("%s/t/%s/%d", c.baseURL, t.Slug, t.ID)
}
