package resultstore

import "strings"

// The workflow engine's table schemas drift: the same logical field shows up
// under camelCase, legacy, or per-workflow spellings. Everything downstream
// of the store only ever sees the canonical name.
var fieldAliases = map[string]string{
	"linkedin_post":       "linkedin",
	"linkedinpost":        "linkedin",
	"twitter_post":        "twitter",
	"x_post":              "twitter",
	"instagram_post":      "instagram",
	"ig_post":             "instagram",
	"pdflink1":            "pdf_link_1",
	"pdflink2":            "pdf_link_2",
	"videourl":            "video_url",
	"watermarkvideourl":   "watermark_video_url",
	"watermarked_url":     "watermark_video_url",
	"shortenedurl":        "shortened_url",
	"short_url":           "shortened_url",
	"taskid":              "task_id",
	"youtubeurl":          "youtube_url",
	"imageurl":            "image_url",
	"searchquery":         "search_query",
	"fullname":            "full_name",
	"useremail":           "user_email",
	"userid":              "user_id",
	"createdat":           "created_at",
	"fail_message":        "fail_msg",
	"failmsg":             "fail_msg",
	"failcode":            "fail_code",
}

// CanonicalField maps any known alias of a field name to its canonical
// snake_case form. Unknown names are lowercased and kept as-is.
func CanonicalField(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := fieldAliases[name]; ok {
		return canonical
	}
	return name
}
