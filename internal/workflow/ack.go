package workflow

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Ack is the opportunistically parsed acknowledgment body. Workflow
// endpoints return anything from an empty body to a JSON object wrapped in a
// single-element array, so every shape is tolerated.
type Ack struct {
	// Raw is the trimmed response body as received.
	Raw string
	// Object holds the decoded JSON object when the body (or its first
	// array element) was one; nil otherwise.
	Object map[string]any
	// Message is the object's "message" field, or the whole body when it
	// was plain text.
	Message string
}

var urlPattern = regexp.MustCompile(`https?://\S+`)

// ParseAck never fails: an unparseable body is still a valid (plain text)
// acknowledgment.
func ParseAck(raw []byte) Ack {
	body := strings.TrimSpace(string(raw))
	ack := Ack{Raw: body}
	if body == "" {
		return ack
	}

	var decoded any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		ack.Message = body
		return ack
	}

	if arr, ok := decoded.([]any); ok {
		if len(arr) == 0 {
			return ack
		}
		decoded = arr[0]
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		ack.Message = body
		return ack
	}
	ack.Object = obj
	if msg, ok := obj["message"].(string); ok {
		ack.Message = msg
	}
	return ack
}

// TaskID extracts an engine-assigned task id from the acknowledgment, under
// any of the spellings the engines use. Empty when the engine returned none.
func (a Ack) TaskID() string {
	for _, key := range []string{"task_id", "taskId", "jobId", "job_id"} {
		if v, ok := a.Object[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if data, ok := a.Object["data"].(map[string]any); ok {
		for _, key := range []string{"task_id", "taskId"} {
			if v, ok := data[key].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// ShortLink extracts a shortened URL from the acknowledgment. The message
// string is searched first because the usual response shape is
// {"message": "Congratulations! This is your: https://tinyurl.com/xyz"};
// an explicit shortened-URL field is only a fallback.
func (a Ack) ShortLink() string {
	if match := urlPattern.FindString(a.Message); match != "" {
		return match
	}
	for _, key := range []string{"shortened_url", "shortenedUrl", "short_url"} {
		if v, ok := a.Object[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if match := urlPattern.FindString(a.Raw); match != "" {
		return match
	}
	return ""
}
