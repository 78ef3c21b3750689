package registry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/growthkit-labs/growthkit-go/internal/workflow"
)

// InputError describes a rejected submission input. It maps to a 400 at the
// API boundary.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// ValidateInput checks a submission's fields and optional file against the
// tool's specs. Unknown fields are rejected so typos do not silently reach
// the workflow engine.
func (t Tool) ValidateInput(fields map[string]string, file *workflow.FileField) error {
	known := make(map[string]FieldSpec, len(t.Fields))
	for _, spec := range t.Fields {
		known[spec.Name] = spec
	}
	for name := range fields {
		if _, ok := known[name]; !ok {
			return &InputError{Field: name, Reason: "unknown field"}
		}
	}

	for _, spec := range t.Fields {
		value := strings.TrimSpace(fields[spec.Name])
		if value == "" {
			if spec.Required {
				return &InputError{Field: spec.Name, Reason: "required"}
			}
			continue
		}
		if spec.MaxLen > 0 && len(value) > spec.MaxLen {
			return &InputError{Field: spec.Name, Reason: fmt.Sprintf("longer than %d characters", spec.MaxLen)}
		}
		switch spec.Kind {
		case FieldURL:
			if !validHTTPURL(value) {
				return &InputError{Field: spec.Name, Reason: "must be an http(s) URL"}
			}
		case FieldYouTubeURL:
			if !validYouTubeURL(value) {
				return &InputError{Field: spec.Name, Reason: "must be a YouTube URL"}
			}
		}
	}

	return t.validateFile(file)
}

func (t Tool) validateFile(file *workflow.FileField) error {
	if t.File == nil {
		if file != nil {
			return &InputError{Field: file.Name, Reason: "tool accepts no file upload"}
		}
		return nil
	}
	if file == nil {
		return &InputError{Field: t.File.Field, Reason: "file is required"}
	}
	if t.File.MaxBytes > 0 && file.Size > t.File.MaxBytes {
		return &InputError{Field: t.File.Field, Reason: fmt.Sprintf("larger than %d bytes", t.File.MaxBytes)}
	}
	if len(t.File.MIMETypes) > 0 && !containsFold(t.File.MIMETypes, file.ContentType) {
		return &InputError{Field: t.File.Field, Reason: fmt.Sprintf("unsupported content type %q", file.ContentType)}
	}
	return nil
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validYouTubeURL(raw string) bool {
	if !validHTTPURL(raw) {
		return false
	}
	u, _ := url.Parse(raw)
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "youtu.be":
		return true
	default:
		return false
	}
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}
