package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Encoding selects how a submission is serialized onto the wire.
type Encoding string

const (
	EncodingJSON      Encoding = "json"
	EncodingMultipart Encoding = "multipart"
)

// Field is one named submission input. Order is preserved so multipart
// payloads arrive in the order the form defined them.
type Field struct {
	Name  string
	Value string
}

// FileField carries an uploaded binary alongside the text fields. Only
// multipart submissions may carry one.
type FileField struct {
	Name        string
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

type Submission struct {
	Fields []Field
	File   *FileField
}

// DispatchError is the single terminal failure for a dispatch attempt:
// network failure, non-2xx status, or malformed-input rejection all land
// here. The dispatcher never retries.
type DispatchError struct {
	Endpoint string
	Status   int
	Reason   string
	Err      error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch to %s failed: %s: %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("dispatch to %s failed: %s", e.Endpoint, e.Reason)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Receipt is everything a dispatch guarantees: the instant captured
// immediately before the request went out, the HTTP status, and whatever
// acknowledgment body the engine chose to return.
type Receipt struct {
	DispatchedAt time.Time
	Status       int
	Ack          Ack
}

type Dispatcher struct {
	logger *slog.Logger
	client *http.Client
}

func NewDispatcher(logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// Dispatch sends one submission to the workflow endpoint. The engine's side
// effects are invisible at this point; success means only that the endpoint
// acknowledged the request.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoint string, encoding Encoding, sub Submission) (Receipt, error) {
	if strings.TrimSpace(endpoint) == "" {
		return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "endpoint is required"}
	}

	dispatchedAt := time.Now().UTC()

	var body io.Reader
	var contentType string
	switch encoding {
	case EncodingJSON:
		if sub.File != nil {
			return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "file field requires multipart encoding"}
		}
		payload := make(map[string]string, len(sub.Fields)+1)
		for _, f := range sub.Fields {
			payload[f.Name] = f.Value
		}
		payload["timestamp"] = dispatchedAt.Format(time.RFC3339)
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "encode payload", Err: err}
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case EncodingMultipart:
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		for _, f := range sub.Fields {
			if err := mw.WriteField(f.Name, f.Value); err != nil {
				return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "encode field", Err: err}
			}
		}
		if err := mw.WriteField("timestamp", dispatchedAt.Format(time.RFC3339)); err != nil {
			return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "encode field", Err: err}
		}
		if sub.File != nil {
			part, err := mw.CreateFormFile(sub.File.Name, sub.File.Filename)
			if err != nil {
				return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "encode file part", Err: err}
			}
			if _, err := io.Copy(part, sub.File.Content); err != nil {
				return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "copy file content", Err: err}
			}
		}
		if err := mw.Close(); err != nil {
			return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "finalize multipart", Err: err}
		}
		body = buf
		contentType = mw.FormDataContentType()
	default:
		return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: fmt.Sprintf("unsupported encoding %q", encoding)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return Receipt{}, &DispatchError{Endpoint: endpoint, Reason: "send request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, &DispatchError{Endpoint: endpoint, Status: resp.StatusCode, Reason: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		if msg := ParseAck(raw).Message; msg != "" {
			reason = fmt.Sprintf("%s: %s", reason, msg)
		}
		return Receipt{}, &DispatchError{Endpoint: endpoint, Status: resp.StatusCode, Reason: reason}
	}

	if d.logger != nil {
		d.logger.Info("submission dispatched",
			"endpoint", endpoint,
			"encoding", string(encoding),
			"status", resp.StatusCode,
		)
	}

	return Receipt{
		DispatchedAt: dispatchedAt,
		Status:       resp.StatusCode,
		Ack:          ParseAck(raw),
	}, nil
}
