package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// searchResult is a normalized forum search hit
type searchResult struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"` // topic, post or category
	Title          string  `json:"title"`
	Excerpt        string  `json:"excerpt,omitempty"`
	Author         string  `json:"author,omitempty"`
	Category       string  `json:"category,omitempty"`
	URL            string  `json:"url"`
	CreatedAt      string  `json:"created_at,omitempty"`
	Views          int     `json:"views"`
	Replies        int     `json:"replies"`
	RelevanceScore float64 `json:"relevance_score"`
}

// LinuxDoSearchTool searches the forum's public search and category endpoints
type LinuxDoSearchTool struct {
	forum *forumClient
}

func (t *LinuxDoSearchTool) Name() string { return "linuxdo_search" }

func (t *LinuxDoSearchTool) Invoke(ctx context.Context, params Params) ([]Message, error) {
	query := strings.TrimSpace(params.GetString("search_query", ""))
	if query == "" {
		return nil, fmt.Errorf("%w: search query must not be empty", ErrInvalidParams)
	}

	searchType := params.GetString("search_type", "all")
	categoryFilter := params.GetString("category_filter", "")
	sortBy := params.GetString("sort_by", "relevance")
	limit := params.GetInt("limit", 20)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 1
	}

	messages := []Message{textMessage(fmt.Sprintf("Searching the forum for %q...", query))}
	start := time.Now()

	results, err := t.collect(ctx, query, searchType, categoryFilter, limit)
	if err != nil {
		return nil, err
	}
	sortResults(results, sortBy)

	var filters []string
	if categoryFilter != "" {
		filters = append(filters, "category: "+categoryFilter)
	}
	if searchType != "all" {
		filters = append(filters, "type: "+searchType)
	}

	messages = append(messages,
		variableMessage("search_results", results),
		variableMessage("search_summary", map[string]interface{}{
			"total_results":   len(results),
			"search_query":    query,
			"search_type":     searchType,
			"processing_time": time.Since(start).Seconds(),
			"filters_applied": filters,
		}),
	)

	if len(results) == 0 {
		messages = append(messages, textMessage(fmt.Sprintf(
			"No results for %q. Try broader keywords, a different search type, or remove the category filter.", query)))
		return messages, nil
	}

	summary, err := renderSearchSummary(query, searchType, filters, results)
	if err != nil {
		return nil, fmt.Errorf("error rendering search summary: %w", err)
	}
	messages = append(messages, textMessage(summary))
	return messages, nil
}

func (t *LinuxDoSearchTool) collect(ctx context.Context, query, searchType, categoryFilter string, limit int) ([]searchResult, error) {
	if searchType == "categories" {
		return t.searchCategories(ctx, query, limit)
	}

	resp, err := t.forum.search(ctx, query)
	if err != nil {
		return nil, err
	}

	categoryNames, err := t.categoryNames(ctx)
	if err != nil {
		// Category names are decoration; keep going without them
		log.WithError(err).Warn("Failed to resolve category names")
		categoryNames = map[int]string{}
	}

	var results []searchResult

	if searchType == "all" || searchType == "topics" {
		for _, topic := range resp.Topics {
			category := categoryNames[topic.CategoryID]
			if categoryFilter != "" && !strings.EqualFold(category, categoryFilter) {
				continue
			}
			results = append(results, searchResult{
				ID:             fmt.Sprintf("topic_%d", topic.ID),
				Type:           "topic",
				Title:          topic.Title,
				Excerpt:        topic.Excerpt,
				Category:       category,
				URL:            t.forum.topicURL(topic),
				CreatedAt:      topic.CreatedAt,
				Views:          topic.Views,
				Replies:        topic.ReplyCount,
				RelevanceScore: relevanceScore(query, topic.Title, topic.Excerpt, topic.LikeCount),
			})
		}
	}

	if searchType == "all" || searchType == "posts" {
		topicTitles := make(map[int]forumTopic, len(resp.Topics))
		for _, topic := range resp.Topics {
			topicTitles[topic.ID] = topic
		}
		for _, post := range resp.Posts {
			topic, ok := topicTitles[post.TopicID]
			title := "Reply"
			category := ""
			if ok {
				title = "Reply: " + topic.Title
				category = categoryNames[topic.CategoryID]
			}
			if categoryFilter != "" && !strings.EqualFold(category, categoryFilter) {
				continue
			}
			results = append(results, searchResult{
				ID:             fmt.Sprintf("post_%d", post.ID),
				Type:           "post",
				Title:          title,
				Excerpt:        post.Blurb,
				Author:         post.Username,
				Category:       category,
				URL:            fmt.Sprintf("%s/t/%d", t.forum.baseURL, post.TopicID),
				CreatedAt:      post.CreatedAt,
				RelevanceScore: relevanceScore(query, title, post.Blurb, post.LikeCount),
			})
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (t *LinuxDoSearchTool) searchCategories(ctx context.Context, query string, limit int) ([]searchResult, error) {
	categories, err := t.forum.categories(ctx)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(query)
	var results []searchResult
	for _, c := range categories {
		if !strings.Contains(strings.ToLower(c.Name), lowered) &&
			!strings.Contains(strings.ToLower(c.DescriptionText), lowered) {
			continue
		}
		results = append(results, searchResult{
			ID:             fmt.Sprintf("category_%d", c.ID),
			Type:           "category",
			Title:          c.Name,
			Excerpt:        c.DescriptionText,
			Category:       c.Name,
			URL:            fmt.Sprintf("%s/c/%s/%d", t.forum.baseURL, c.Slug, c.ID),
			Views:          c.PostCount,
			Replies:        c.TopicCount,
			RelevanceScore: relevanceScore(query, c.Name, c.DescriptionText, 0),
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (t *LinuxDoSearchTool) categoryNames(ctx context.Context) (map[int]string, error) {
	categories, err := t.forum.categories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names, nil
}

// relevanceScore weighs keyword hits in the title over hits in the body,
// with a small popularity bump
func relevanceScore(query, title, body string, likes int) float64 {
	score := 0.4
	lowered := strings.ToLower(query)
	if strings.Contains(strings.ToLower(title), lowered) {
		score += 0.3
	}
	if strings.Contains(strings.ToLower(body), lowered) {
		score += 0.1
	}
	score += float64(likes) * 0.01
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func sortResults(results []searchResult, sortBy string) {
	switch sortBy {
	case "date":
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].CreatedAt > results[j].CreatedAt
		})
	case "views":
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Views > results[j].Views
		})
	case "replies":
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Replies > results[j].Replies
		})
	default: // relevance
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].RelevanceScore > results[j].RelevanceScore
		})
	}
}
