package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/growthkit-labs/growthkit-go/internal/resultstore"
)

// Item is one display row derived from a record field: a human label, the
// formatted value, and the target URL when the value is a link.
type Item struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Value string `json:"value"`
	URL   string `json:"url,omitempty"`
}

// Options tunes rendering per tool.
type Options struct {
	// Exclude lists canonical field names hidden beyond the bookkeeping
	// set, typically fields the tool already surfaces positionally.
	Exclude []string
	// UsernameFields are rendered with a leading @.
	UsernameFields []string
}

// bookkeeping columns are never shown; they exist for scoping and ordering.
var bookkeepingFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"user_id":    true,
	"user_email": true,
}

// Record turns a result record into display items, preserving the store's
// column order. Empty values are dropped rather than rendered blank.
// Rendering is idempotent: formatting an already formatted value changes
// nothing.
func Record(rec resultstore.Record, opts Options) []Item {
	excluded := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		excluded[resultstore.CanonicalField(name)] = true
	}
	usernames := make(map[string]bool, len(opts.UsernameFields))
	for _, name := range opts.UsernameFields {
		usernames[resultstore.CanonicalField(name)] = true
	}

	items := make([]Item, 0, len(rec.Fields))
	for _, field := range rec.Fields {
		if bookkeepingFields[field.Name] || excluded[field.Name] {
			continue
		}
		value := FormatValue(field.Value)
		if value == "" {
			continue
		}
		if usernames[field.Name] && !strings.HasPrefix(value, "@") {
			value = "@" + value
		}
		item := Item{
			Field: field.Name,
			Label: Label(field.Name),
			Value: value,
		}
		if isURL(value) {
			item.URL = value
		}
		items = append(items, item)
	}
	return items
}

// initialisms stay fully capitalized in labels.
var initialisms = map[string]string{
	"url": "URL",
	"pdf": "PDF",
	"id":  "ID",
	"seo": "SEO",
	"ai":  "AI",
}

// Label converts a canonical snake_case field name to a display label:
// "watermark_video_url" becomes "Watermark Video URL".
func Label(name string) string {
	words := strings.Split(strings.TrimSpace(name), "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		lower := strings.ToLower(word)
		if special, ok := initialisms[lower]; ok {
			words[i] = special
			continue
		}
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

// FormatValue renders a field value for display. Counts get thousands
// separators; strings that are not purely numeric pass through untouched, so
// a value already carrying separators is not mangled on a second pass.
func FormatValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(typed)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && !strings.HasPrefix(s, "0") {
			return humanize.Comma(n)
		}
		return s
	case int:
		return humanize.Comma(int64(typed))
	case int64:
		return humanize.Comma(typed)
	case float64:
		if typed == float64(int64(typed)) {
			return humanize.Comma(int64(typed))
		}
		return humanize.Commaf(typed)
	case bool:
		return strconv.FormatBool(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", typed))
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
