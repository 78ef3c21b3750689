package registry

import (
	"errors"
	"strings"
	"testing"

	"github.com/growthkit-labs/growthkit-go/internal/workflow"
)

func toolByName(t *testing.T, name string) Tool {
	t.Helper()
	for _, tool := range Builtins() {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("no built-in tool %q", name)
	return Tool{}
}

func TestValidateInput_RequiredFields(t *testing.T) {
	lead := toolByName(t, "leadscraper")

	err := lead.ValidateInput(map[string]string{"search_query": "Dentist"}, nil)
	if err == nil {
		t.Fatal("accepted a submission missing the location field")
	}
	var inputErr *InputError
	if !errors.As(err, &inputErr) || inputErr.Field != "location" {
		t.Fatalf("err=%v, want InputError on location", err)
	}

	// leadscraper expects no file; field validation alone passes.
	err = lead.ValidateInput(map[string]string{"search_query": "Dentist", "location": "Pune"}, nil)
	if err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}
}

func TestValidateInput_UnknownFieldRejected(t *testing.T) {
	lead := toolByName(t, "leadscraper")
	err := lead.ValidateInput(map[string]string{
		"search_query": "Dentist",
		"location":     "Pune",
		"budget":       "100",
	}, nil)
	if err == nil {
		t.Fatal("accepted an unknown field")
	}
}

func TestValidateInput_URLKinds(t *testing.T) {
	tiny := toolByName(t, "tinyurl")
	if err := tiny.ValidateInput(map[string]string{"url": "https://example.com/a/b/c"}, nil); err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}
	if err := tiny.ValidateInput(map[string]string{"url": "notaurl"}, nil); err == nil {
		t.Fatal("accepted a non-URL")
	}
	if err := tiny.ValidateInput(map[string]string{"url": "ftp://example.com/x"}, nil); err == nil {
		t.Fatal("accepted a non-http scheme")
	}

	repurpose := toolByName(t, "repurpose")
	if err := repurpose.ValidateInput(map[string]string{"youtube_url": "https://www.youtube.com/watch?v=abc"}, nil); err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}
	if err := repurpose.ValidateInput(map[string]string{"youtube_url": "https://youtu.be/abc"}, nil); err != nil {
		t.Fatalf("ValidateInput short host: %v", err)
	}
	if err := repurpose.ValidateInput(map[string]string{"youtube_url": "https://vimeo.com/123"}, nil); err == nil {
		t.Fatal("accepted a non-YouTube URL")
	}
}

func TestValidateInput_File(t *testing.T) {
	scripts := toolByName(t, "scripts")
	fields := map[string]string{"topic": "hooks"}

	if err := scripts.ValidateInput(fields, nil); err == nil {
		t.Fatal("accepted a scripts submission without a video")
	}

	good := &workflow.FileField{
		Name:        "video",
		Filename:    "clip.mp4",
		ContentType: "video/mp4",
		Size:        1024,
		Content:     strings.NewReader("data"),
	}
	if err := scripts.ValidateInput(fields, good); err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}

	big := *good
	big.Size = scripts.File.MaxBytes + 1
	if err := scripts.ValidateInput(fields, &big); err == nil {
		t.Fatal("accepted an oversized upload")
	}

	wrongType := *good
	wrongType.ContentType = "application/pdf"
	if err := scripts.ValidateInput(fields, &wrongType); err == nil {
		t.Fatal("accepted a non-video content type")
	}
}
