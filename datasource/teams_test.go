package datasource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTeams(t *testing.T, server *httptest.Server, creds Credentials) *TeamsDocument {
	t.Helper()
	if creds == nil {
		creds = Credentials{"access_token": "test-token"}
	}
	doc, err := newTeamsDocument(Config{Provider: "teams", Credentials: creds})
	require.NoError(t, err)
	doc.baseURL = server.URL
	doc.httpClient.RetryMax = 0
	return doc
}

func TestNewTeamsDocumentRequiresToken(t *testing.T) {
	_, err := newTeamsDocument(Config{Provider: "teams", Credentials: Credentials{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTeamsValidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"id": "user-1", "displayName": "Ada"})
	}))
	defer server.Close()

	doc := newTestTeams(t, server, nil)
	assert.NoError(t, doc.Validate(context.Background()))
}

func TestTeamsValidateInvalidToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	// No refresh credentials configured, so the 401 is terminal
	doc := newTestTeams(t, server, nil)
	err := doc.Validate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTeamsTokenRefreshOnUnauthorized(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "client-1", r.Form.Get("client_id"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "fresh-token",
			"refresh_token": "fresh-refresh",
		})
	}))
	defer tokenServer.Close()

	var calls int
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "user-1", "displayName": "Ada"})
	}))
	defer graphServer.Close()

	doc := newTestTeams(t, graphServer, Credentials{
		"access_token":  "stale-token",
		"refresh_token": "old-refresh",
		"client_id":     "client-1",
		"client_secret": "shh",
	})
	doc.tokenURL = tokenServer.URL

	require.NoError(t, doc.Validate(context.Background()))
	assert.Equal(t, 2, calls)
	assert.Equal(t, "fresh-token", doc.bearer())
}

func TestTeamsRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	doc := newTestTeams(t, server, nil)
	err := doc.Validate(context.Background())
	require.Error(t, err)

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 120, rateErr.RetryAfterSeconds)
}

func graphTestHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/me":
			json.NewEncoder(w).Encode(map[string]string{"id": "user-1", "displayName": "Ada"})
		case "/me/joinedTeams":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value": []map[string]string{
					{"id": "team-1", "displayName": "Engineering", "description": "Eng team"},
				},
			})
		case "/teams/team-1":
			json.NewEncoder(w).Encode(map[string]string{
				"id": "team-1", "displayName": "Engineering", "description": "Eng team",
			})
		case "/teams/team-1/channels":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value": []map[string]string{
					{"id": "chan-1", "displayName": "General", "membershipType": "standard"},
				},
			})
		case "/teams/team-1/channels/chan-1/messages":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value": []map[string]interface{}{
					{
						"id":              "msg-1",
						"createdDateTime": "2025-06-01T10:00:00Z",
						"body":            map[string]string{"content": "<p>Hello &amp; welcome</p>", "contentType": "html"},
						"from": map[string]interface{}{
							"user": map[string]string{"id": "user-2", "displayName": "Grace"},
						},
					},
				},
			})
		case "/teams/team-1/members":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value": []map[string]interface{}{
					{"displayName": "Ada", "roles": []string{"owner"}},
					{"displayName": "Grace"},
				},
			})
		case "/me/chats":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value": []map[string]string{
					{"id": "chat-1", "topic": "Release planning", "chatType": "group"},
					{"id": "chat-2", "chatType": "oneOnOne"},
				},
			})
		default:
			t.Logf("unexpected Graph path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestTeamsGetPages(t *testing.T) {
	server := httptest.NewServer(graphTestHandler(t))
	defer server.Close()

	doc := newTestTeams(t, server, nil)
	resp, err := doc.GetPages(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Ada's Microsoft Teams", resp.WorkspaceName)
	assert.Equal(t, "user-1", resp.WorkspaceID)
	assert.Equal(t, len(resp.Pages), resp.Total)

	byID := make(map[string]Page)
	for _, p := range resp.Pages {
		byID[p.ID] = p
	}

	team, ok := byID["team:team-1"]
	require.True(t, ok)
	assert.Equal(t, "Team: Engineering", team.Title)
	assert.Equal(t, "team", team.Type)

	channel, ok := byID["channel:team-1:chan-1"]
	require.True(t, ok)
	assert.Equal(t, "Channel: Engineering > General", channel.Title)

	message, ok := byID["message:team-1:chan-1:msg-1"]
	require.True(t, ok)
	assert.Equal(t, "Message: Grace - Hello & welcome", message.Title)
	assert.Equal(t, "Grace", message.Metadata["author"])

	chat, ok := byID["chat:chat-1"]
	require.True(t, ok)
	assert.Equal(t, "Chat: Release planning", chat.Title)

	oneOnOne, ok := byID["chat:chat-2"]
	require.True(t, ok)
	assert.Equal(t, "One-on-one chat", oneOnOne.Title)
}

func TestTeamsGetPageContentTeam(t *testing.T) {
	server := httptest.NewServer(graphTestHandler(t))
	defer server.Close()

	doc := newTestTeams(t, server, nil)
	content, err := doc.GetPageContent(context.Background(), "team:team-1")
	require.NoError(t, err)

	assert.Equal(t, "Engineering", content.Title)
	assert.Equal(t, "team", content.Type)
	assert.Contains(t, content.Markdown, "# Team: Engineering")
	assert.Contains(t, content.Markdown, "- Ada (owner)")
	assert.Contains(t, content.Markdown, "**General**")
}

func TestTeamsGetPageContentUnknownType(t *testing.T) {
	server := httptest.NewServer(graphTestHandler(t))
	defer server.Close()

	doc := newTestTeams(t, server, nil)
	_, err := doc.GetPageContent(context.Background(), "wiki:123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported page type")
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{"short string untouched", "hello", 50, "hello"},
		{"ascii cut at limit", "abcdefgh", 5, "abcde"},
		{"cjk cut on rune boundary", "这是一条很长的中文消息", 5, "这是一条很"},
		{"exact length untouched", "四个汉字", 4, "四个汉字"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := truncateRunes(tc.input, tc.limit)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestMessagePreviewKeepsCJKIntact(t *testing.T) {
	preview := truncateRunes("这是一条很长的中文消息这是一条很长的中文消息这是一条很长的中文消息这是一条很长的中文消息这是一条很长的中文消息这是一条很长的中文消息", 50)
	assert.True(t, utf8.ValidString(preview))
	assert.Len(t, []rune(preview), 50)
}

func TestExtractMessageText(t *testing.T) {
	tests := []struct {
		name string
		body graphMessageBody
		want string
	}{
		{
			name: "html stripped and unescaped",
			body: graphMessageBody{Content: "<div><p>Hello &amp; welcome</p></div>", ContentType: "html"},
			want: "Hello & welcome",
		},
		{
			name: "plain text untouched",
			body: graphMessageBody{Content: "a < b", ContentType: "text"},
			want: "a < b",
		},
		{
			name: "whitespace trimmed",
			body: graphMessageBody{Content: "  hi  ", ContentType: "text"},
			want: "hi",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractMessageText(tc.body))
		})
	}
}
