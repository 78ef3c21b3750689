package registry

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/growthkit-labs/growthkit-go/internal/platform/env"
	"github.com/growthkit-labs/growthkit-go/internal/workflow"
)

// Correlation names how a tool's result is matched back to its submission.
type Correlation string

const (
	// CorrelateTimestamp accepts the newest owner record created at or
	// after the dispatch instant minus the tolerance.
	CorrelateTimestamp Correlation = "timestamp"
	// CorrelateTaskID matches on the engine-assigned task id.
	CorrelateTaskID Correlation = "task_id"
	// CorrelateAck resolves synchronously from the dispatch acknowledgment
	// with no store polling at all.
	CorrelateAck Correlation = "ack"
	// CorrelateNone is fire-and-forget: a successful dispatch is the
	// result. No ack inspection, no store polling.
	CorrelateNone Correlation = "none"
)

// Polls reports whether the mode reads the result store after dispatch.
func (c Correlation) Polls() bool {
	return c == CorrelateTimestamp || c == CorrelateTaskID
}

// FieldKind drives syntactic validation of an input field.
type FieldKind string

const (
	FieldText       FieldKind = "text"
	FieldURL        FieldKind = "url"
	FieldYouTubeURL FieldKind = "youtube_url"
)

// FieldSpec describes one input field of a tool form.
type FieldSpec struct {
	Name     string    `yaml:"name" json:"name"`
	Label    string    `yaml:"label" json:"label"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Required bool      `yaml:"required" json:"required"`
	MaxLen   int       `yaml:"max_len" json:"max_len,omitempty"`
}

// FileSpec describes the single file upload a multipart tool accepts.
type FileSpec struct {
	Field     string   `yaml:"field" json:"field"`
	MaxBytes  int64    `yaml:"max_bytes" json:"max_bytes"`
	MIMETypes []string `yaml:"mime_types" json:"mime_types"`
}

// Tool is one dashboard tool: where its work is dispatched, where its results
// land, and how the wait for them is paced.
type Tool struct {
	Name        string `yaml:"name" json:"name"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`

	// Endpoint is the workflow engine URL work is POSTed to. A tool with
	// no endpoint configured is disabled and hidden from listings.
	Endpoint string            `yaml:"endpoint" json:"-"`
	Encoding workflow.Encoding `yaml:"encoding" json:"encoding"`

	// Table is the result store table polled for this tool's records.
	// Empty for tools that resolve from the acknowledgment.
	Table string `yaml:"table" json:"-"`

	PreDelay     time.Duration `yaml:"-" json:"pre_delay_seconds"`
	PollInterval time.Duration `yaml:"-" json:"-"`
	Tolerance    time.Duration `yaml:"-" json:"-"`
	MaxWait      time.Duration `yaml:"-" json:"-"`

	Correlation Correlation `yaml:"correlation" json:"-"`

	Fields []FieldSpec `yaml:"fields" json:"fields"`
	File   *FileSpec   `yaml:"file" json:"file,omitempty"`

	// DisplayExclude hides result fields the tool surfaces elsewhere.
	DisplayExclude []string `yaml:"display_exclude" json:"-"`
	// UsernameFields are rendered with a leading @.
	UsernameFields []string `yaml:"username_fields" json:"-"`
}

// Enabled reports whether the tool can accept submissions.
func (t Tool) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// Registry holds the tool set: built-in definitions overlaid by an optional
// YAML file.
type Registry struct {
	logger *slog.Logger
	byName map[string]Tool
}

// Builtins returns the shipped tool definitions. Endpoints come from the
// environment only.
func Builtins() []Tool {
	return []Tool{
		{
			Name:        "leadscraper",
			Title:       "Lead Scraper",
			Description: "Scrape public business leads for a niche and location.",
			Endpoint:    env.String("GROWTHKIT_WEBHOOK_LEADSCRAPER", ""),
			Encoding:    workflow.EncodingMultipart,
			Table:       "instagram_leads",
			PreDelay:     0,
			PollInterval: 3 * time.Second,
			Tolerance:    5 * time.Second,
			Correlation:  CorrelateTimestamp,
			Fields: []FieldSpec{
				{Name: "search_query", Label: "Niche", Kind: FieldText, Required: true, MaxLen: 200},
				{Name: "location", Label: "Location", Kind: FieldText, Required: true, MaxLen: 200},
			},
			UsernameFields: []string{"username"},
		},
		{
			Name:        "linkedin",
			Title:       "LinkedIn Post Scraper",
			Description: "Track two LinkedIn creators and collect their posts.",
			Endpoint:    env.String("GROWTHKIT_WEBHOOK_LINKEDIN", ""),
			Encoding:    workflow.EncodingJSON,
			Correlation: CorrelateNone,
			Fields: []FieldSpec{
				{Name: "linkedin_url_1", Label: "LinkedIn Profile 1", Kind: FieldURL, Required: true},
				{Name: "linkedin_url_2", Label: "LinkedIn Profile 2", Kind: FieldURL, Required: true},
			},
		},
		{
			Name:        "repurpose",
			Title:       "Content Repurposer",
			Description: "Turn a YouTube video into platform-ready posts.",
			Endpoint:    env.String("GROWTHKIT_WEBHOOK_REPURPOSE", ""),
			Encoding:    workflow.EncodingJSON,
			Table:       "content_repurpose",
			PreDelay:     90 * time.Second,
			PollInterval: 5 * time.Second,
			Tolerance:    5 * time.Second,
			Correlation:  CorrelateTimestamp,
			Fields: []FieldSpec{
				{Name: "youtube_url", Label: "YouTube URL", Kind: FieldYouTubeURL, Required: true},
			},
			DisplayExclude: []string{"youtube_url"},
		},
		{
			Name:        "scripts",
			Title:       "Script Generator",
			Description: "Generate a content script from an uploaded source video.",
			Endpoint:    env.String("GROWTHKIT_WEBHOOK_SCRIPTS", ""),
			Encoding:    workflow.EncodingMultipart,
			Table:       "video_content_requests",
			PreDelay:     120 * time.Second,
			PollInterval: 5 * time.Second,
			Tolerance:    5 * time.Second,
			Correlation:  CorrelateTimestamp,
			Fields: []FieldSpec{
				{Name: "topic", Label: "Topic", Kind: FieldText, Required: true, MaxLen: 300},
			},
			File: &FileSpec{
				Field:     "video",
				MaxBytes:  512 << 20,
				MIMETypes: []string{"video/mp4", "video/quicktime", "video/webm"},
			},
		},
		{
			Name:        "shorts",
			Title:       "Shorts Maker",
			Description: "Generate a short vertical video from a prompt.",
			Endpoint:    env.String("GROWTHKIT_WEBHOOK_SHORTS", ""),
			Encoding:    workflow.EncodingJSON,
			Table:       "youtube_shorts",
			PreDelay:     0,
			PollInterval: 5 * time.Second,
			Correlation:  CorrelateTaskID,
			Fields: []FieldSpec{
				{Name: "prompt", Label: "Prompt", Kind: FieldText, Required: true, MaxLen: 2000},
			},
			DisplayExclude: []string{"task_id", "prompt"},
		},
		{
			Name:        "tinyurl",
			Title:       "URL Shortener",
			Description: "Shorten any link.",
			Endpoint:    env.String("GROWTHKIT_WEBHOOK_TINYURL", ""),
			Encoding:    workflow.EncodingJSON,
			Correlation: CorrelateAck,
			Fields: []FieldSpec{
				{Name: "url", Label: "URL", Kind: FieldURL, Required: true},
			},
		},
	}
}

// Load builds the registry from the built-ins plus the optional YAML overlay
// file named by GROWTHKIT_TOOLS_CONFIG.
func Load(logger *slog.Logger) (*Registry, error) {
	return load(logger, env.String("GROWTHKIT_TOOLS_CONFIG", ""))
}

func load(logger *slog.Logger, path string) (*Registry, error) {
	byName := make(map[string]Tool)
	for _, tool := range Builtins() {
		byName[tool.Name] = tool
	}

	if path != "" {
		overlay, err := readOverlay(path)
		if err != nil {
			return nil, err
		}
		for _, o := range overlay.Tools {
			tool, err := o.apply(byName[o.Name])
			if err != nil {
				return nil, fmt.Errorf("tools config %s: tool %q: %w", path, o.Name, err)
			}
			byName[tool.Name] = tool
		}
	}

	reg := &Registry{logger: logger, byName: byName}
	for _, tool := range reg.Tools() {
		if err := checkTool(tool); err != nil {
			return nil, err
		}
		if !tool.Enabled() && logger != nil {
			logger.Warn("tool has no endpoint configured, disabling", "tool", tool.Name)
		}
	}
	return reg, nil
}

// Lookup returns an enabled tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok || !tool.Enabled() {
		return Tool{}, false
	}
	return tool, true
}

// Tools returns every registered tool, enabled or not, sorted by name.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.byName))
	for _, tool := range r.byName {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enabled returns the tools that can accept submissions, sorted by name.
func (r *Registry) Enabled() []Tool {
	out := make([]Tool, 0, len(r.byName))
	for _, tool := range r.Tools() {
		if tool.Enabled() {
			out = append(out, tool)
		}
	}
	return out
}

type overlayFile struct {
	Tools []overlayTool `yaml:"tools"`
}

// overlayTool is the YAML shape of one tool override. Unset fields keep the
// built-in value; durations are spelled as Go duration strings ("90s").
type overlayTool struct {
	Name        string  `yaml:"name"`
	Title       *string `yaml:"title"`
	Description *string `yaml:"description"`
	Endpoint    *string `yaml:"endpoint"`
	Encoding    *string `yaml:"encoding"`
	Table       *string `yaml:"table"`

	PreDelay     *string `yaml:"pre_delay"`
	PollInterval *string `yaml:"poll_interval"`
	Tolerance    *string `yaml:"tolerance"`
	MaxWait      *string `yaml:"max_wait"`

	Correlation *string `yaml:"correlation"`

	Fields         []FieldSpec `yaml:"fields"`
	File           *FileSpec   `yaml:"file"`
	DisplayExclude []string    `yaml:"display_exclude"`
	UsernameFields []string    `yaml:"username_fields"`
}

func readOverlay(path string) (overlayFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return overlayFile{}, fmt.Errorf("read tools config: %w", err)
	}
	var file overlayFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return overlayFile{}, fmt.Errorf("parse tools config %s: %w", path, err)
	}
	return file, nil
}

func (o overlayTool) apply(base Tool) (Tool, error) {
	if strings.TrimSpace(o.Name) == "" {
		return Tool{}, fmt.Errorf("missing name")
	}
	tool := base
	tool.Name = strings.ToLower(strings.TrimSpace(o.Name))

	if o.Title != nil {
		tool.Title = *o.Title
	}
	if o.Description != nil {
		tool.Description = *o.Description
	}
	if o.Endpoint != nil {
		tool.Endpoint = *o.Endpoint
	}
	if o.Encoding != nil {
		tool.Encoding = workflow.Encoding(*o.Encoding)
	}
	if o.Table != nil {
		tool.Table = *o.Table
	}
	if o.Correlation != nil {
		tool.Correlation = Correlation(*o.Correlation)
	}
	if o.Fields != nil {
		tool.Fields = o.Fields
	}
	if o.File != nil {
		tool.File = o.File
	}
	if o.DisplayExclude != nil {
		tool.DisplayExclude = o.DisplayExclude
	}
	if o.UsernameFields != nil {
		tool.UsernameFields = o.UsernameFields
	}

	var err error
	if tool.PreDelay, err = applyDuration(o.PreDelay, tool.PreDelay); err != nil {
		return Tool{}, fmt.Errorf("pre_delay: %w", err)
	}
	if tool.PollInterval, err = applyDuration(o.PollInterval, tool.PollInterval); err != nil {
		return Tool{}, fmt.Errorf("poll_interval: %w", err)
	}
	if tool.Tolerance, err = applyDuration(o.Tolerance, tool.Tolerance); err != nil {
		return Tool{}, fmt.Errorf("tolerance: %w", err)
	}
	if tool.MaxWait, err = applyDuration(o.MaxWait, tool.MaxWait); err != nil {
		return Tool{}, fmt.Errorf("max_wait: %w", err)
	}
	return tool, nil
}

func applyDuration(raw *string, current time.Duration) (time.Duration, error) {
	if raw == nil {
		return current, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*raw))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func checkTool(tool Tool) error {
	switch tool.Encoding {
	case workflow.EncodingJSON, workflow.EncodingMultipart:
	default:
		return fmt.Errorf("tool %q: unknown encoding %q", tool.Name, tool.Encoding)
	}
	switch tool.Correlation {
	case CorrelateTimestamp, CorrelateTaskID:
		if strings.TrimSpace(tool.Table) == "" {
			return fmt.Errorf("tool %q: result table is required for %s correlation", tool.Name, tool.Correlation)
		}
	case CorrelateAck, CorrelateNone:
	default:
		return fmt.Errorf("tool %q: unknown correlation %q", tool.Name, tool.Correlation)
	}
	if tool.File != nil && tool.Encoding != workflow.EncodingMultipart {
		return fmt.Errorf("tool %q: file upload requires multipart encoding", tool.Name)
	}
	return nil
}
