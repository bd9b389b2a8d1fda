package viewer

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/felixgeelhaar/neai/internal/memory"
)

// FormatScore renders a confidence or relevance value with two decimals.
func FormatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// memoryListTemplate renders one entry per item. All fields go through
// html/template escaping; the feedback forms post to the local dashboard.
var memoryListTemplate = template.Must(template.New("memory").Funcs(template.FuncMap{
	"score": FormatScore,
}).Parse(`<div id="memory_container">
{{- range .Snapshot.Items}}
<div class="memory-item" data-id="{{.ID}}">
<b>ID:</b> <span class="id">{{.ID}}</span><br>
<b>Type:</b> <span class="type">{{.Type}}</span><br>
<b>Content:</b> <span class="content">{{.Content}}</span><br>
<b>Confidence:</b> <span class="confidence">{{score .Confidence}}</span><br>
<b>Relevance:</b> <span class="relevance">{{score .Relevance}}</span><br>
<b>Times seen:</b> <span class="times-seen">{{.TimesSeen}}</span>
<form class="feedback" method="post" action="/feedback"><input type="hidden" name="id" value="{{.ID}}"><input type="hidden" name="positive" value="true"><button class="feedback-btn">👍</button></form>
<form class="feedback" method="post" action="/feedback"><input type="hidden" name="id" value="{{.ID}}"><input type="hidden" name="positive" value="false"><button class="feedback-btn">👎</button></form>
</div>
{{- else}}
<p class="empty">No memory items yet.</p>
{{- end}}
</div>
`))

// RenderHTML writes the memory list fragment for st.
func RenderHTML(w io.Writer, st State) error {
	if err := memoryListTemplate.Execute(w, st); err != nil {
		return fmt.Errorf("failed to render memory list: %w", err)
	}
	return nil
}

// TextEntry is one item prepared for terminal output: every field is
// formatted and stripped of control characters.
type TextEntry struct {
	ID         string
	Type       string
	Content    string
	Confidence string
	Relevance  string
	TimesSeen  string
}

// Entries formats the snapshot items for terminal rendering.
func Entries(items []memory.Item) []TextEntry {
	out := make([]TextEntry, 0, len(items))
	for _, it := range items {
		out = append(out, TextEntry{
			ID:         Sanitize(it.ID),
			Type:       Sanitize(it.Type),
			Content:    Sanitize(it.Content),
			Confidence: FormatScore(it.Confidence),
			Relevance:  FormatScore(it.Relevance),
			TimesSeen:  strconv.Itoa(it.TimesSeen),
		})
	}
	return out
}

// RenderText writes a plain text view of st, one block per item.
func RenderText(w io.Writer, st State) error {
	var sb strings.Builder
	if st.Status != "" {
		fmt.Fprintf(&sb, "Status: %s\n", Sanitize(st.Status))
	}
	if st.Err != nil {
		fmt.Fprintf(&sb, "Warning: view may be stale: %s\n", Sanitize(st.Err.Error()))
	}
	entries := Entries(st.Snapshot.Items)
	if len(entries) == 0 {
		sb.WriteString("No memory items yet.\n")
	}
	for _, e := range entries {
		fmt.Fprintf(&sb, "ID: %s\n  Type: %s\n  Content: %s\n  Confidence: %s  Relevance: %s  Times seen: %s\n",
			e.ID, e.Type, e.Content, e.Confidence, e.Relevance, e.TimesSeen)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Sanitize flattens newlines and drops other control characters so backend
// content cannot move the cursor or inject escape sequences into a terminal.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}
