package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	graphRequestTimeout = 30 * time.Second

	// page enumeration limits
	channelMessagePreviewCount = 5
	chatListCount              = 10
	channelContentMessageCount = 20
	chatContentMessageCount    = 30
	teamMemberDisplayLimit     = 10
)

var graphScopes = []string{
	"https://graph.microsoft.com/Team.ReadBasic.All",
	"https://graph.microsoft.com/Channel.ReadBasic.All",
	"https://graph.microsoft.com/ChannelMessage.Read.All",
	"https://graph.microsoft.com/Chat.Read",
	"https://graph.microsoft.com/Files.Read.All",
	"https://graph.microsoft.com/User.Read",
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// TeamsDocument implements OnlineDocument against the Microsoft Graph API.
// Teams, channels, recent channel messages and chats are exposed as pages.
type TeamsDocument struct {
	baseURL    string
	tokenURL   string
	httpClient *retryablehttp.Client
	limiter    *rate.Limiter

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	clientID     string
	clientSecret string
	tenantID     string
}

func newTeamsDocument(config Config) (*TeamsDocument, error) {
	creds := config.Credentials
	accessToken := strings.TrimSpace(creds.Get("access_token"))
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrInvalidCredentials)
	}

	baseURL := config.GraphBaseURL
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	tenantID := creds.GetDefault("tenant_id", "common")

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = graphRequestTimeout
	client.Logger = log.WithField("datasource", "teams")

	return &TeamsDocument{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		httpClient:   client,
		limiter:      rate.NewLimiter(rate.Limit(4), 8), // Graph throttles bursty clients
		accessToken:  accessToken,
		refreshToken: creds.Get("refresh_token"),
		clientID:     creds.Get("client_id"),
		clientSecret: creds.Get("client_secret"),
		tenantID:     tenantID,
	}, nil
}

func (t *TeamsDocument) bearer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accessToken
}

// get performs a rate-limited Graph GET, refreshing the token once on 401
func (t *TeamsDocument) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	requestURL := t.baseURL + path
	if params != nil {
		requestURL += "?" + params.Encode()
	}

	resp, err := t.doGet(ctx, requestURL)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if err := t.refreshAccessToken(ctx); err != nil {
			return fmt.Errorf("%w: invalid Microsoft Teams access token: %v", ErrInvalidCredentials, err)
		}
		resp, err = t.doGet(ctx, requestURL)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if retryAfter == 0 {
			retryAfter = 60
		}
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("microsoft graph error: %d - %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *TeamsDocument) doGet(ctx context.Context, requestURL string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating Graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.bearer())
	req.Header.Set("Accept", "application/json")
	return t.httpClient.Do(req)
}

// refreshAccessToken exchanges the refresh token for a fresh access token
func (t *TeamsDocument) refreshAccessToken(ctx context.Context) error {
	t.mu.Lock()
	refreshToken, clientID, clientSecret := t.refreshToken, t.clientID, t.clientSecret
	t.mu.Unlock()

	if refreshToken == "" || clientID == "" || clientSecret == "" {
		return fmt.Errorf("missing required credentials for token refresh")
	}

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")
	form.Set("scope", strings.Join(graphScopes, " "))

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("failed to refresh access token: %s", string(body))
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("error decoding token response: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("failed to obtain new access token")
	}

	t.mu.Lock()
	t.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		t.refreshToken = token.RefreshToken
	}
	t.mu.Unlock()

	log.WithField("datasource", "teams").Info("Access token refreshed")
	return nil
}

// Validate checks the access token with a Graph /me probe
func (t *TeamsDocument) Validate(ctx context.Context) error {
	var me graphUser
	if err := t.get(ctx, "/me", nil, &me); err != nil {
		return fmt.Errorf("failed to validate Microsoft Teams token: %w", err)
	}
	return nil
}

type graphUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphList[T any] struct {
	Value []T `json:"value"`
}

type graphTeam struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	Description     string `json:"description"`
	WebURL          string `json:"webUrl"`
	CreatedDateTime string `json:"createdDateTime"`
}

type graphChannel struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	Description     string `json:"description"`
	WebURL          string `json:"webUrl"`
	MembershipType  string `json:"membershipType"`
	CreatedDateTime string `json:"createdDateTime"`
}

type graphMessageBody struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

type graphMessage struct {
	ID              string           `json:"id"`
	MessageType     string           `json:"messageType"`
	CreatedDateTime string           `json:"createdDateTime"`
	WebURL          string           `json:"webUrl"`
	Body            graphMessageBody `json:"body"`
	From            struct {
		User graphUser `json:"user"`
	} `json:"from"`
	Attachments []struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		ContentURL  string `json:"contentUrl"`
	} `json:"attachments"`
}

type graphChat struct {
	ID                  string `json:"id"`
	Topic               string `json:"topic"`
	ChatType            string `json:"chatType"`
	WebURL              string `json:"webUrl"`
	CreatedDateTime     string `json:"createdDateTime"`
	LastUpdatedDateTime string `json:"lastUpdatedDateTime"`
}

type graphMember struct {
	DisplayName string   `json:"displayName"`
	UserID      string   `json:"userId"`
	Roles       []string `json:"roles"`
}

func (m *graphMessage) authorName() string {
	if m.From.User.DisplayName != "" {
		return m.From.User.DisplayName
	}
	return "Unknown"
}

// extractMessageText strips HTML bodies down to plain text
// truncateRunes shortens s to at most n characters. Message bodies are
// often CJK, so cutting on byte offsets would split a rune.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func extractMessageText(body graphMessageBody) string {
	content := body.Content
	if body.ContentType == "html" {
		content = htmlTagRe.ReplaceAllString(content, "")
		content = html.UnescapeString(content)
	}
	return strings.TrimSpace(content)
}

// GetPages enumerates joined teams, their channels, recent channel messages
// and recent chats as browsable pages
func (t *TeamsDocument) GetPages(ctx context.Context) (*PagesResponse, error) {
	var me graphUser
	if err := t.get(ctx, "/me", nil, &me); err != nil {
		return nil, err
	}

	var teams graphList[graphTeam]
	if err := t.get(ctx, "/me/joinedTeams", nil, &teams); err != nil {
		return nil, fmt.Errorf("failed to list joined teams: %w", err)
	}

	// Enumerate teams concurrently, keeping per-team page order stable
	teamPages := make([][]Page, len(teams.Value))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, team := range teams.Value {
		i, team := i, team
		g.Go(func() error {
			teamPages[i] = t.collectTeamPages(gctx, team)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pages []Page
	for _, tp := range teamPages {
		pages = append(pages, tp...)
	}

	// Chat listing is best effort; some tenants disable the Chat.Read scope
	if chats, err := t.listChats(ctx, chatListCount); err == nil {
		for _, chat := range chats {
			pages = append(pages, Page{
				ID:    "chat:" + chat.ID,
				Title: chatTitle(chat),
				Type:  "chat",
				URL:   chat.WebURL,
				Metadata: map[string]string{
					"chat_id":      chat.ID,
					"chat_type":    chat.ChatType,
					"topic":        chat.Topic,
					"created_date": chat.CreatedDateTime,
					"last_updated": chat.LastUpdatedDateTime,
				},
			})
		}
	}

	return &PagesResponse{
		WorkspaceName: fmt.Sprintf("%s's Microsoft Teams", firstNonEmpty(me.DisplayName, "User")),
		WorkspaceID:   me.ID,
		Pages:         pages,
		Total:         len(pages),
	}, nil
}

// collectTeamPages gathers the team page, its channels and recent channel
// messages. Inaccessible teams or channels are skipped, not fatal.
func (t *TeamsDocument) collectTeamPages(ctx context.Context, team graphTeam) []Page {
	pages := []Page{{
		ID:    "team:" + team.ID,
		Title: "Team: " + team.DisplayName,
		Type:  "team",
		URL:   team.WebURL,
		Metadata: map[string]string{
			"team_id":      team.ID,
			"description":  team.Description,
			"created_date": team.CreatedDateTime,
		},
	}}

	channels, err := t.listChannels(ctx, team.ID)
	if err != nil {
		log.WithError(err).WithField("team", team.DisplayName).Debug("Skipping channels for team")
		return pages
	}

	for _, channel := range channels {
		pages = append(pages, Page{
			ID:    fmt.Sprintf("channel:%s:%s", team.ID, channel.ID),
			Title: fmt.Sprintf("Channel: %s > %s", team.DisplayName, channel.DisplayName),
			Type:  "channel",
			URL:   channel.WebURL,
			Metadata: map[string]string{
				"team_id":      team.ID,
				"team_name":    team.DisplayName,
				"channel_id":   channel.ID,
				"channel_type": firstNonEmpty(channel.MembershipType, "standard"),
				"description":  channel.Description,
				"created_date": channel.CreatedDateTime,
			},
		})

		messages, err := t.listChannelMessages(ctx, team.ID, channel.ID, channelMessagePreviewCount)
		if err != nil {
			continue
		}
		for _, message := range messages {
			preview := truncateRunes(extractMessageText(message.Body), 50)
			pages = append(pages, Page{
				ID:    fmt.Sprintf("message:%s:%s:%s", team.ID, channel.ID, message.ID),
				Title: fmt.Sprintf("Message: %s - %s", message.authorName(), preview),
				Type:  "message",
				URL:   message.WebURL,
				Metadata: map[string]string{
					"team_id":      team.ID,
					"team_name":    team.DisplayName,
					"channel_id":   channel.ID,
					"channel_name": channel.DisplayName,
					"message_id":   message.ID,
					"author":       message.authorName(),
					"created_date": message.CreatedDateTime,
					"message_type": firstNonEmpty(message.MessageType, "message"),
				},
			})
		}
	}
	return pages
}

func chatTitle(chat graphChat) string {
	if chat.Topic != "" {
		return "Chat: " + chat.Topic
	}
	if chat.ChatType == "oneOnOne" {
		return "One-on-one chat"
	}
	return fmt.Sprintf("Group chat (%s)", chat.ChatType)
}

func (t *TeamsDocument) listChannels(ctx context.Context, teamID string) ([]graphChannel, error) {
	var channels graphList[graphChannel]
	err := t.get(ctx, fmt.Sprintf("/teams/%s/channels", teamID), nil, &channels)
	return channels.Value, err
}

func (t *TeamsDocument) listChannelMessages(ctx context.Context, teamID, channelID string, limit int) ([]graphMessage, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(limit))
	params.Set("$orderby", "createdDateTime desc")
	var messages graphList[graphMessage]
	err := t.get(ctx, fmt.Sprintf("/teams/%s/channels/%s/messages", teamID, channelID), params, &messages)
	return messages.Value, err
}

func (t *TeamsDocument) listChats(ctx context.Context, limit int) ([]graphChat, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(limit))
	params.Set("$orderby", "lastUpdatedDateTime desc")
	var chats graphList[graphChat]
	err := t.get(ctx, "/me/chats", params, &chats)
	return chats.Value, err
}

func (t *TeamsDocument) listChatMessages(ctx context.Context, chatID string, limit int) ([]graphMessage, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(limit))
	params.Set("$orderby", "createdDateTime desc")
	var messages graphList[graphMessage]
	err := t.get(ctx, fmt.Sprintf("/me/chats/%s/messages", chatID), params, &messages)
	return messages.Value, err
}

// GetPageContent renders the markdown content of a single page
func (t *TeamsDocument) GetPageContent(ctx context.Context, pageID string) (*PageContent, error) {
	switch {
	case strings.HasPrefix(pageID, "team:"):
		return t.teamContent(ctx, pageID)
	case strings.HasPrefix(pageID, "channel:"):
		return t.channelContent(ctx, pageID)
	case strings.HasPrefix(pageID, "message:"):
		return t.messageContent(ctx, pageID)
	case strings.HasPrefix(pageID, "chat:"):
		return t.chatContent(ctx, pageID)
	default:
		return nil, fmt.Errorf("unsupported page type: %s", pageID)
	}
}

func (t *TeamsDocument) teamContent(ctx context.Context, pageID string) (*PageContent, error) {
	teamID := strings.TrimPrefix(pageID, "team:")

	var team graphTeam
	if err := t.get(ctx, "/teams/"+teamID, nil, &team); err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Team: %s\n\n", team.DisplayName)
	fmt.Fprintf(&sb, "**Description:** %s\n", firstNonEmpty(team.Description, "none"))
	fmt.Fprintf(&sb, "**Created:** %s\n", team.CreatedDateTime)
	fmt.Fprintf(&sb, "**URL:** %s\n\n", team.WebURL)

	var members graphList[graphMember]
	if err := t.get(ctx, fmt.Sprintf("/teams/%s/members", teamID), nil, &members); err == nil && len(members.Value) > 0 {
		sb.WriteString("## Members\n\n")
		for i, member := range members.Value {
			if i >= teamMemberDisplayLimit {
				break
			}
			fmt.Fprintf(&sb, "- %s", member.DisplayName)
			if len(member.Roles) > 0 {
				fmt.Fprintf(&sb, " (%s)", strings.Join(member.Roles, ", "))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if channels, err := t.listChannels(ctx, teamID); err == nil && len(channels) > 0 {
		sb.WriteString("## Channels\n\n")
		for _, channel := range channels {
			fmt.Fprintf(&sb, "- **%s**", channel.DisplayName)
			if channel.Description != "" {
				fmt.Fprintf(&sb, ": %s", channel.Description)
			}
			fmt.Fprintf(&sb, " (%s)\n", firstNonEmpty(channel.MembershipType, "standard"))
		}
	}

	return &PageContent{
		ID:       pageID,
		Title:    team.DisplayName,
		Type:     "team",
		Markdown: sb.String(),
		Metadata: map[string]string{"team_id": teamID},
	}, nil
}

func (t *TeamsDocument) channelContent(ctx context.Context, pageID string) (*PageContent, error) {
	parts := strings.SplitN(pageID, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid channel page ID: %s", pageID)
	}
	teamID, channelID := parts[1], parts[2]

	var channel graphChannel
	if err := t.get(ctx, fmt.Sprintf("/teams/%s/channels/%s", teamID, channelID), nil, &channel); err != nil {
		return nil, err
	}
	var team graphTeam
	if err := t.get(ctx, "/teams/"+teamID, nil, &team); err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Channel: %s\n\n", channel.DisplayName)
	fmt.Fprintf(&sb, "**Team:** %s\n", team.DisplayName)
	fmt.Fprintf(&sb, "**Type:** %s\n", firstNonEmpty(channel.MembershipType, "standard"))
	fmt.Fprintf(&sb, "**Description:** %s\n", firstNonEmpty(channel.Description, "none"))
	fmt.Fprintf(&sb, "**Created:** %s\n", channel.CreatedDateTime)
	fmt.Fprintf(&sb, "**URL:** %s\n\n", channel.WebURL)

	if messages, err := t.listChannelMessages(ctx, teamID, channelID, channelContentMessageCount); err == nil && len(messages) > 0 {
		sb.WriteString("## Recent messages\n\n")
		for _, message := range messages {
			writeMessageMarkdown(&sb, &message)
		}
	}

	return &PageContent{
		ID:       pageID,
		Title:    fmt.Sprintf("%s > %s", team.DisplayName, channel.DisplayName),
		Type:     "channel",
		Markdown: sb.String(),
		Metadata: map[string]string{"team_id": teamID, "channel_id": channelID},
	}, nil
}

func writeMessageMarkdown(sb *strings.Builder, message *graphMessage) {
	fmt.Fprintf(sb, "### %s - %s\n\n", message.authorName(), message.CreatedDateTime)
	if text := extractMessageText(message.Body); text != "" {
		sb.WriteString(text + "\n\n")
	}
	if len(message.Attachments) > 0 {
		sb.WriteString("**Attachments:**\n")
		for _, attachment := range message.Attachments {
			fmt.Fprintf(sb, "- %s\n", firstNonEmpty(attachment.Name, "Unknown file"))
		}
		sb.WriteString("\n")
	}
}

func (t *TeamsDocument) messageContent(ctx context.Context, pageID string) (*PageContent, error) {
	parts := strings.SplitN(pageID, ":", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid message page ID: %s", pageID)
	}
	teamID, channelID, messageID := parts[1], parts[2], parts[3]
	messagePath := fmt.Sprintf("/teams/%s/channels/%s/messages/%s", teamID, channelID, messageID)

	var message graphMessage
	if err := t.get(ctx, messagePath, nil, &message); err != nil {
		return nil, err
	}
	var team graphTeam
	if err := t.get(ctx, "/teams/"+teamID, nil, &team); err != nil {
		return nil, err
	}
	var channel graphChannel
	if err := t.get(ctx, fmt.Sprintf("/teams/%s/channels/%s", teamID, channelID), nil, &channel); err != nil {
		return nil, err
	}

	text := extractMessageText(message.Body)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Message: %s\n\n", message.authorName())
	fmt.Fprintf(&sb, "**Team:** %s\n", team.DisplayName)
	fmt.Fprintf(&sb, "**Channel:** %s\n", channel.DisplayName)
	fmt.Fprintf(&sb, "**Sent:** %s\n", message.CreatedDateTime)
	fmt.Fprintf(&sb, "**Type:** %s\n", firstNonEmpty(message.MessageType, "message"))
	fmt.Fprintf(&sb, "**URL:** %s\n\n", message.WebURL)

	if text != "" {
		sb.WriteString("## Content\n\n" + text + "\n\n")
	}
	if len(message.Attachments) > 0 {
		sb.WriteString("## Attachments\n\n")
		for _, attachment := range message.Attachments {
			fmt.Fprintf(&sb, "- **%s**\n", firstNonEmpty(attachment.Name, "Unknown file"))
			if attachment.ContentType != "" {
				fmt.Fprintf(&sb, "  type: %s\n", attachment.ContentType)
			}
			if attachment.ContentURL != "" {
				fmt.Fprintf(&sb, "  url: %s\n", attachment.ContentURL)
			}
		}
		sb.WriteString("\n")
	}

	var replies graphList[graphMessage]
	if err := t.get(ctx, messagePath+"/replies", nil, &replies); err == nil && len(replies.Value) > 0 {
		sb.WriteString("## Replies\n\n")
		for _, reply := range replies.Value {
			fmt.Fprintf(&sb, "### %s - %s\n\n", reply.authorName(), reply.CreatedDateTime)
			if replyText := extractMessageText(reply.Body); replyText != "" {
				sb.WriteString(replyText + "\n\n")
			}
		}
	}

	title := truncateRunes(fmt.Sprintf("Message: %s - %s", message.authorName(), text), 80)
	return &PageContent{
		ID:       pageID,
		Title:    title,
		Type:     "message",
		Markdown: sb.String(),
		Metadata: map[string]string{"team_id": teamID, "channel_id": channelID, "message_id": messageID},
	}, nil
}

func (t *TeamsDocument) chatContent(ctx context.Context, pageID string) (*PageContent, error) {
	chatID := strings.TrimPrefix(pageID, "chat:")

	var chat graphChat
	if err := t.get(ctx, "/me/chats/"+chatID, nil, &chat); err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", chatTitle(chat))
	fmt.Fprintf(&sb, "**Type:** %s\n", chat.ChatType)
	fmt.Fprintf(&sb, "**Created:** %s\n", chat.CreatedDateTime)
	fmt.Fprintf(&sb, "**Last updated:** %s\n\n", chat.LastUpdatedDateTime)

	var members graphList[graphMember]
	if err := t.get(ctx, fmt.Sprintf("/me/chats/%s/members", chatID), nil, &members); err == nil && len(members.Value) > 0 {
		sb.WriteString("## Participants\n\n")
		for _, member := range members.Value {
			fmt.Fprintf(&sb, "- %s", member.DisplayName)
			if member.UserID != "" {
				fmt.Fprintf(&sb, " (ID: %s)", member.UserID)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if messages, err := t.listChatMessages(ctx, chatID, chatContentMessageCount); err == nil && len(messages) > 0 {
		sb.WriteString("## Recent messages\n\n")
		for _, message := range messages {
			writeMessageMarkdown(&sb, &message)
		}
	}

	return &PageContent{
		ID:       pageID,
		Title:    chatTitle(chat),
		Type:     "chat",
		Markdown: sb.String(),
		Metadata: map[string]string{"chat_id": chatID, "chat_type": chat.ChatType},
	}, nil
}
