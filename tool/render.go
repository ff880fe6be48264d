package tool

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

var accountSummaryTmpl = template.Must(template.New("account").Funcs(sprig.FuncMap()).Parse(`# LinuxDo Account

**User ID**: {{ .User.UserID }}
**API key**: valid
{{- if .IncludeExtra }}
{{- with .User.Username }}
**Username**: {{ . }}
{{- end }}
{{- with .User.Name }}
**Display name**: {{ . }}
{{- end }}
**Trust level**: {{ .User.TrustLevel }}
**Account state**: {{ ternary "active" "inactive" .User.Active }}
{{- if .User.Admin }}
**Admin**: yes
{{- end }}
{{- if .User.Moderator }}
**Moderator**: yes
{{- end }}
{{- with .User.CreatedAt }}
**Registered**: {{ . }}
{{- end }}
{{- with .User.LastSeenAt }}
**Last seen**: {{ . }}
{{- end }}
{{- end }}
`))

func renderAccountSummary(user *linuxDoUser, includeExtra bool) (string, error) {
	var sb strings.Builder
	err := accountSummaryTmpl.Execute(&sb, map[string]interface{}{
		"User":         user,
		"IncludeExtra": includeExtra,
	})
	return sb.String(), err
}

var checkinStatusTmpl = template.Must(template.New("checkin-status").Funcs(sprig.FuncMap()).Parse(`## Check-in status

**Last check-in**: {{ default "never" .LastCheckin }}
**Current streak**: {{ .CurrentStreak }} days
**Longest streak**: {{ .LongestStreak }} days
**Total points**: {{ .TotalPoints }}
**Check-ins this month**: {{ .MonthlyCheckins }}
`))

func renderCheckinStatus(status *checkinStatus) (string, error) {
	var sb strings.Builder
	err := checkinStatusTmpl.Execute(&sb, status)
	return sb.String(), err
}

var searchSummaryTmpl = template.Must(template.New("search").Funcs(sprig.FuncMap()).Parse(`## LinuxDo search results

**Query**: {{ .Query }}
**Type**: {{ .Type }}
**Results**: {{ .Total }}
{{- with .Filters }}
**Filters**: {{ join ", " . }}
{{- end }}

{{ range $i, $r := .Results }}
{{- if lt $i 10 }}
**{{ add $i 1 }}. {{ $r.Title }}**
   - author: {{ default "unknown" $r.Author }}
   - category: {{ default "uncategorized" $r.Category }}
   - views: {{ $r.Views }} | replies: {{ $r.Replies }}
   - link: {{ $r.URL }}
{{- with $r.Excerpt }}
   - excerpt: {{ trunc 100 . }}
{{- end }}

{{ end }}
{{- end }}
{{- if gt .Total 10 }}
... {{ sub .Total 10 }} more results
{{- end }}
`))

func renderSearchSummary(query, searchType string, filters []string, results []searchResult) (string, error) {
	var sb strings.Builder
	err := searchSummaryTmpl.Execute(&sb, map[string]interface{}{
		"Query":   query,
		"Type":    searchType,
		"Total":   len(results),
		"Filters": filters,
		"Results": results,
	})
	return sb.String(), err
}
