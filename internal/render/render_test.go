package render

import (
	"reflect"
	"testing"
	"time"

	"github.com/growthkit-labs/growthkit-go/internal/resultstore"
)

func leadRecord() resultstore.Record {
	return resultstore.Record{
		ID:         "r1",
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		OwnerID:    "user-1",
		OwnerEmail: "a@example.com",
		Fields: []resultstore.FieldValue{
			{Name: "id", Value: "r1"},
			{Name: "created_at", Value: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
			{Name: "user_id", Value: "user-1"},
			{Name: "username", Value: "dentist.pune"},
			{Name: "followers", Value: int64(12345)},
			{Name: "profile_url", Value: "https://example.com/p/dentist"},
			{Name: "bio", Value: ""},
		},
	}
}

func TestRecord_FormatsAndFilters(t *testing.T) {
	items := Record(leadRecord(), Options{UsernameFields: []string{"username"}})

	want := []Item{
		{Field: "username", Label: "Username", Value: "@dentist.pune"},
		{Field: "followers", Label: "Followers", Value: "12,345"},
		{Field: "profile_url", Label: "Profile URL", Value: "https://example.com/p/dentist", URL: "https://example.com/p/dentist"},
	}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("items=%+v\nwant %+v", items, want)
	}
}

func TestRecord_Idempotent(t *testing.T) {
	rec := leadRecord()
	opts := Options{UsernameFields: []string{"username"}}

	first := Record(rec, opts)
	second := Record(rec, opts)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("rendering twice diverged:\n%+v\n%+v", first, second)
	}

	// Re-rendering already formatted values must not mangle them.
	for _, item := range first {
		if got := FormatValue(item.Value); got != item.Value {
			t.Fatalf("FormatValue(%q)=%q, want unchanged", item.Value, got)
		}
	}
}

func TestRecord_ExcludesToolFields(t *testing.T) {
	rec := resultstore.Record{Fields: []resultstore.FieldValue{
		{Name: "youtube_url", Value: "https://youtube.com/watch?v=x"},
		{Name: "linkedin", Value: "post text"},
	}}

	items := Record(rec, Options{Exclude: []string{"youtube_url"}})
	if len(items) != 1 || items[0].Field != "linkedin" {
		t.Fatalf("items=%+v, want only the linkedin field", items)
	}
}

func TestRecord_PreservesStoreOrder(t *testing.T) {
	rec := resultstore.Record{Fields: []resultstore.FieldValue{
		{Name: "zeta", Value: "1"},
		{Name: "alpha", Value: "x"},
		{Name: "mid", Value: "y"},
	}}

	items := Record(rec, Options{})
	got := []string{items[0].Field, items[1].Field, items[2].Field}
	want := []string{"zeta", "alpha", "mid"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("field order=%v, want store order %v", got, want)
	}
}

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"search_query":        "Search Query",
		"watermark_video_url": "Watermark Video URL",
		"pdf_link_1":          "PDF Link 1",
		"followers":           "Followers",
	}
	for in, want := range cases {
		if got := Label(in); got != want {
			t.Fatalf("Label(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	if got := FormatValue(int64(1234567)); got != "1,234,567" {
		t.Fatalf("FormatValue(1234567)=%q", got)
	}
	if got := FormatValue("8900"); got != "8,900" {
		t.Fatalf("FormatValue(\"8900\")=%q", got)
	}
	// Already separated strings pass through untouched.
	if got := FormatValue("8,900"); got != "8,900" {
		t.Fatalf("FormatValue(\"8,900\")=%q", got)
	}
	if got := FormatValue(nil); got != "" {
		t.Fatalf("FormatValue(nil)=%q, want empty", got)
	}
	if got := FormatValue("  text  "); got != "text" {
		t.Fatalf("FormatValue trims to %q", got)
	}
}
