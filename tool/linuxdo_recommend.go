package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

var techInterestKeywords = []string{"linux", "python", "docker", "kubernetes", "ai", "ml", "dev", "code"}

var defaultInterests = []string{"Linux", "Open Source", "Tech Discussion", "Programming"}

// recommendation is one personalized suggestion
type recommendation struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"` // topic, user or category
	Title    string  `json:"title"`
	Details  string  `json:"description,omitempty"`
	URL      string  `json:"url"`
	Score    float64 `json:"recommendation_score"`
	Reason   string  `json:"recommendation_reason"`
	Views    int     `json:"views,omitempty"`
	Replies  int     `json:"replies,omitempty"`
	Trending bool    `json:"is_trending"`
}

// LinuxDoRecommendTool builds suggestions from the user's profile and the
// forum's current top content
type LinuxDoRecommendTool struct {
	client *linuxDoClient
	forum  *forumClient
}

func (t *LinuxDoRecommendTool) Name() string { return "linuxdo_recommendations" }

func (t *LinuxDoRecommendTool) Invoke(ctx context.Context, params Params) ([]Message, error) {
	recType := params.GetString("recommendation_type", "mixed")
	personalization := params.GetString("personalization_level", "balanced")
	includeTrending := params.GetBool("include_trending", true)
	limit := params.GetInt("limit", 10)
	if limit > 50 {
		limit = 50
	}
	if limit < 1 {
		limit = 1
	}

	messages := []Message{textMessage("Generating personalized recommendations...")}
	start := time.Now()

	interests := t.userInterests(ctx)

	var recs []recommendation
	var err error
	switch recType {
	case "topics":
		recs, err = t.topicRecommendations(ctx, interests, limit, includeTrending, personalization)
	case "users":
		recs, err = t.userRecommendations(ctx, limit)
	case "categories":
		recs, err = t.categoryRecommendations(ctx, interests, limit)
	default: // mixed
		recs, err = t.mixedRecommendations(ctx, interests, limit, includeTrending, personalization)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })

	messages = append(messages,
		variableMessage("recommendations", recs),
		variableMessage("recommendation_summary", map[string]interface{}{
			"total_recommendations": len(recs),
			"recommendation_type":   recType,
			"personalization_level": personalization,
			"user_interests":        interests,
			"trending_included":     includeTrending,
			"generation_time":       time.Since(start).Seconds(),
		}),
	)

	if len(recs) == 0 {
		messages = append(messages, textMessage("No recommendations available right now"))
		return messages, nil
	}

	messages = append(messages, textMessage(renderRecommendations(recType, personalization, interests, recs)))
	return messages, nil
}

// userInterests infers interests from the profile's username and bio. Falls
// back to the default interest set when nothing matches.
func (t *LinuxDoRecommendTool) userInterests(ctx context.Context) []string {
	user, err := t.client.userInfo(ctx, true)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch user profile, using default interests")
		return defaultInterests
	}

	haystack := strings.ToLower(user.Username + " " + user.Bio)
	var interests []string
	for _, keyword := range techInterestKeywords {
		if strings.Contains(haystack, keyword) {
			interests = append(interests, strings.ToUpper(keyword[:1])+keyword[1:])
		}
	}
	if len(interests) == 0 {
		return defaultInterests
	}
	if len(interests) > 5 {
		interests = interests[:5]
	}
	return interests
}

// matchedInterest returns the first interest appearing in text, if any
func matchedInterest(interests []string, text string) string {
	lowered := strings.ToLower(text)
	for _, interest := range interests {
		if strings.Contains(lowered, strings.ToLower(interest)) {
			return interest
		}
	}
	return ""
}

func (t *LinuxDoRecommendTool) topicRecommendations(ctx context.Context, interests []string, limit int, includeTrending bool, personalization string) ([]recommendation, error) {
	topics, err := t.forum.topTopics(ctx)
	if err != nil {
		return nil, err
	}

	var recs []recommendation
	for rank, topic := range topics {
		if len(recs) >= limit {
			break
		}

		interest := matchedInterest(interests, topic.Title+" "+topic.Excerpt)
		score := 0.9 - float64(rank)*0.02
		reason := "Currently popular on the forum"
		if interest != "" {
			reason = fmt.Sprintf("Matches your interest in %s", interest)
			if personalization == "high" {
				score += 0.1
			}
		} else if personalization == "high" {
			// High personalization keeps only interest matches
			continue
		}
		if personalization == "discovery" {
			// Discovery flattens rank so lower entries surface too
			score = 0.7
		}
		if score > 1.0 {
			score = 1.0
		}
		if score < 0.1 {
			score = 0.1
		}

		recs = append(recs, recommendation{
			ID:       fmt.Sprintf("topic_%d", topic.ID),
			Type:     "topic",
			Title:    topic.Title,
			Details:  topic.Excerpt,
			URL:      t.forum.topicURL(topic),
			Score:    score,
			Reason:   reason,
			Views:    topic.Views,
			Replies:  topic.ReplyCount,
			Trending: includeTrending && rank < 10,
		})
	}
	return recs, nil
}

func (t *LinuxDoRecommendTool) userRecommendations(ctx context.Context, limit int) ([]recommendation, error) {
	users, err := t.forum.activeUsers(ctx)
	if err != nil {
		return nil, err
	}

	var recs []recommendation
	for rank, user := range users {
		if len(recs) >= limit {
			break
		}
		title := user.Username
		if user.Name != "" {
			title = fmt.Sprintf("%s (%s)", user.Username, user.Name)
		}
		recs = append(recs, recommendation{
			ID:     fmt.Sprintf("user_%d", user.ID),
			Type:   "user",
			Title:  title,
			URL:    fmt.Sprintf("%s/u/%s", t.forum.baseURL, user.Username),
			Score:  0.95 - float64(rank)*0.02,
			Reason: "Among this week's most appreciated users",
		})
	}
	return recs, nil
}

func (t *LinuxDoRecommendTool) categoryRecommendations(ctx context.Context, interests []string, limit int) ([]recommendation, error) {
	categories, err := t.forum.categories(ctx)
	if err != nil {
		return nil, err
	}

	var recs []recommendation
	for rank, category := range categories {
		if len(recs) >= limit {
			break
		}
		interest := matchedInterest(interests, category.Name+" "+category.DescriptionText)
		score := 0.7 - float64(rank)*0.01
		reason := "Active forum category"
		if interest != "" {
			score += 0.2
			reason = fmt.Sprintf("Category matches your interest in %s", interest)
		}
		recs = append(recs, recommendation{
			ID:      fmt.Sprintf("category_%d", category.ID),
			Type:    "category",
			Title:   category.Name,
			Details: category.DescriptionText,
			URL:     fmt.Sprintf("%s/c/%s/%d", t.forum.baseURL, category.Slug, category.ID),
			Score:   score,
			Reason:  reason,
			Replies: category.TopicCount,
		})
	}
	return recs, nil
}

// mixedRecommendations splits the budget 60/25/15 across topics, users and
// categories
func (t *LinuxDoRecommendTool) mixedRecommendations(ctx context.Context, interests []string, limit int, includeTrending bool, personalization string) ([]recommendation, error) {
	topicLimit := limit * 60 / 100
	userLimit := limit * 25 / 100
	categoryLimit := limit - topicLimit - userLimit

	var recs []recommendation

	topics, err := t.topicRecommendations(ctx, interests, topicLimit, includeTrending, personalization)
	if err != nil {
		return nil, err
	}
	recs = append(recs, topics...)

	users, err := t.userRecommendations(ctx, userLimit)
	if err != nil {
		log.WithError(err).Warn("Skipping user recommendations")
	} else {
		recs = append(recs, users...)
	}

	categories, err := t.categoryRecommendations(ctx, interests, categoryLimit)
	if err != nil {
		log.WithError(err).Warn("Skipping category recommendations")
	} else {
		recs = append(recs, categories...)
	}

	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func renderRecommendations(recType, personalization string, interests []string, recs []recommendation) string {
	var sb strings.Builder
	sb.WriteString("## Personalized recommendations\n\n")
	fmt.Fprintf(&sb, "**Type**: %s\n", recType)
	fmt.Fprintf(&sb, "**Personalization**: %s\n", personalization)
	fmt.Fprintf(&sb, "**Count**: %d\n", len(recs))
	fmt.Fprintf(&sb, "**Detected interests**: %s\n\n", strings.Join(interests, ", "))

	byType := map[string][]recommendation{}
	for _, r := range recs {
		byType[r.Type] = append(byType[r.Type], r)
	}

	sections := []struct {
		key, heading string
		max          int
	}{
		{"topic", "### Topics\n\n", 5},
		{"user", "### Users\n\n", 3},
		{"category", "### Categories\n\n", 3},
	}
	for _, section := range sections {
		items := byType[section.key]
		if len(items) == 0 {
			continue
		}
		sb.WriteString(section.heading)
		for i, r := range items {
			if i >= section.max {
				break
			}
			fmt.Fprintf(&sb, "**%d. %s**\n", i+1, r.Title)
			fmt.Fprintf(&sb, "   - score: %.2f\n", r.Score)
			fmt.Fprintf(&sb, "   - reason: %s\n", r.Reason)
			fmt.Fprintf(&sb, "   - link: %s\n\n", r.URL)
		}
	}

	trending := 0
	var totalScore float64
	for _, r := range recs {
		if r.Trending {
			trending++
		}
		totalScore += r.Score
	}
	sb.WriteString("### Statistics\n\n")
	fmt.Fprintf(&sb, "- **Average score**: %.2f\n", totalScore/float64(len(recs)))
	fmt.Fprintf(&sb, "- **Trending items**: %d\n", trending)
	fmt.Fprintf(&sb, "- **Interests used**: %d\n", len(interests))
	return sb.String()
}
