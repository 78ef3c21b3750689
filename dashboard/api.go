package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/growthkit-labs/growthkit-go/internal/platform/auditlog"
	"github.com/growthkit-labs/growthkit-go/internal/platform/auth"
	"github.com/growthkit-labs/growthkit-go/internal/platform/objectstore"
	"github.com/growthkit-labs/growthkit-go/internal/registry"
	"github.com/growthkit-labs/growthkit-go/internal/render"
	"github.com/growthkit-labs/growthkit-go/internal/resultstore"
	"github.com/growthkit-labs/growthkit-go/internal/submission"
	"github.com/growthkit-labs/growthkit-go/internal/workflow"
)

// multipartMemoryLimit is the in-memory threshold for parsing uploads; larger
// parts spill to temp files.
const multipartMemoryLimit = 32 << 20

type dashboardAPI struct {
	logger     *slog.Logger
	registry   *registry.Registry
	manager    *submission.Manager
	store      *resultstore.Store
	db         *sql.DB
	uploads    *minio.Client
	uploadsCfg objectstore.Config
}

func newDashboardAPI(
	logger *slog.Logger,
	reg *registry.Registry,
	manager *submission.Manager,
	store *resultstore.Store,
	db *sql.DB,
	uploads *minio.Client,
	uploadsCfg objectstore.Config,
) *dashboardAPI {
	return &dashboardAPI{
		logger:     logger,
		registry:   reg,
		manager:    manager,
		store:      store,
		db:         db,
		uploads:    uploads,
		uploadsCfg: uploadsCfg,
	}
}

func (api *dashboardAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /tools", api.handleListTools)
	mux.HandleFunc("POST /tools/{tool}/submissions", api.handleSubmit)
	mux.HandleFunc("GET /tools/{tool}/submissions/{submission_id}", api.handleGetSubmission)
	mux.HandleFunc("DELETE /tools/{tool}/submissions/{submission_id}", api.handleCancelSubmission)
	mux.HandleFunc("GET /tools/{tool}/history", api.handleHistory)
	mux.HandleFunc("DELETE /tools/{tool}/history/{record_id}", api.handleHistoryDelete)
}

func (api *dashboardAPI) handleListTools(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{"tools": api.registry.Enabled()})
}

func (api *dashboardAPI) handleSubmit(w http.ResponseWriter, r *http.Request) {
	tool, ok := api.registry.Lookup(r.PathValue("tool"))
	if !ok {
		api.writeError(w, r, http.StatusNotFound, "unknown_tool")
		return
	}
	owner := ownerFrom(r)

	var (
		fields map[string]string
		file   *workflow.FileField
	)
	if tool.File != nil {
		parsed, upload, err := api.parseMultipartSubmission(r, tool)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_multipart")
			return
		}
		if upload != nil {
			defer upload.close()
			file = upload.field
		}
		fields = parsed
	} else {
		fields = map[string]string{}
		if err := decodeJSON(r, &fields); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	snap, err := api.manager.Submit(r.Context(), tool, owner, fields, file)
	if err != nil {
		var inputErr *registry.InputError
		var dispatchErr *workflow.DispatchError
		switch {
		case errors.As(err, &inputErr):
			api.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "invalid_input",
				"field":      inputErr.Field,
				"detail":     inputErr.Reason,
				"request_id": r.Header.Get("X-Request-Id"),
			})
		case errors.Is(err, submission.ErrNoIdentity):
			api.writeError(w, r, http.StatusUnauthorized, "no_identity")
		case errors.As(err, &dispatchErr):
			api.logger.Warn("dispatch failed",
				"tool", tool.Name,
				"request_id", r.Header.Get("X-Request-Id"),
				"error", err,
			)
			api.writeError(w, r, http.StatusBadGateway, "dispatch_failed")
		default:
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	api.audit(r, "tool.submission.dispatch", "submission", snap.ID, map[string]any{
		"tool":  tool.Name,
		"state": string(snap.State),
	})

	status := http.StatusAccepted
	if snap.State.Terminal() {
		status = http.StatusCreated
	}
	api.writeJSON(w, status, snap)
}

func (api *dashboardAPI) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	snap, ok := api.manager.Get(r.PathValue("tool"), r.PathValue("submission_id"), ownerFrom(r))
	if !ok {
		api.writeError(w, r, http.StatusNotFound, "submission_not_found")
		return
	}
	api.writeJSON(w, http.StatusOK, snap)
}

func (api *dashboardAPI) handleCancelSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("submission_id")
	if !api.manager.Cancel(r.PathValue("tool"), id, ownerFrom(r)) {
		api.writeError(w, r, http.StatusNotFound, "submission_not_found")
		return
	}

	api.audit(r, "tool.submission.cancel", "submission", id, map[string]any{
		"tool": r.PathValue("tool"),
	})
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

type historyEntry struct {
	RecordID  string        `json:"record_id"`
	CreatedAt time.Time     `json:"created_at"`
	Items     []render.Item `json:"items"`
}

func (api *dashboardAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	tool, ok := api.registry.Lookup(r.PathValue("tool"))
	if !ok {
		api.writeError(w, r, http.StatusNotFound, "unknown_tool")
		return
	}
	if tool.Table == "" {
		api.writeError(w, r, http.StatusNotFound, "history_unavailable")
		return
	}

	limit := clampInt(parseIntQuery(r, "limit", 10), 1, 50)
	records, err := api.store.History(r.Context(), tool.Table, ownerFrom(r), limit)
	if err != nil {
		if errors.Is(err, resultstore.ErrNoIdentity) {
			api.writeError(w, r, http.StatusUnauthorized, "no_identity")
			return
		}
		api.logger.Error("history read failed",
			"tool", tool.Name,
			"request_id", r.Header.Get("X-Request-Id"),
			"error", err,
		)
		api.writeError(w, r, http.StatusInternalServerError, "read_error")
		return
	}

	entries := make([]historyEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, historyEntry{
			RecordID:  record.ID,
			CreatedAt: record.CreatedAt,
			Items: render.Record(record, render.Options{
				Exclude:        tool.DisplayExclude,
				UsernameFields: tool.UsernameFields,
			}),
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"records": entries})
}

func (api *dashboardAPI) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	tool, ok := api.registry.Lookup(r.PathValue("tool"))
	if !ok {
		api.writeError(w, r, http.StatusNotFound, "unknown_tool")
		return
	}
	if tool.Table == "" {
		api.writeError(w, r, http.StatusNotFound, "history_unavailable")
		return
	}

	recordID := strings.TrimSpace(r.PathValue("record_id"))
	affected, err := api.store.Delete(r.Context(), tool.Table, recordID, ownerFrom(r))
	if err != nil {
		if errors.Is(err, resultstore.ErrNoIdentity) {
			api.writeError(w, r, http.StatusUnauthorized, "no_identity")
			return
		}
		api.logger.Error("history delete failed",
			"tool", tool.Name,
			"request_id", r.Header.Get("X-Request-Id"),
			"error", err,
		)
		api.writeError(w, r, http.StatusInternalServerError, "delete_error")
		return
	}
	if affected == 0 {
		api.writeError(w, r, http.StatusNotFound, "record_not_found")
		return
	}

	api.audit(r, "tool.history.delete", "record", recordID, map[string]any{
		"tool":  tool.Name,
		"table": tool.Table,
	})
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// stagedUpload is an upload parsed from the form and mirrored into the object
// store; the same open part is replayed into the dispatch.
type stagedUpload struct {
	field *workflow.FileField
	part  io.Closer
}

func (u *stagedUpload) close() {
	if u.part != nil {
		_ = u.part.Close()
	}
}

func (api *dashboardAPI) parseMultipartSubmission(r *http.Request, tool registry.Tool) (map[string]string, *stagedUpload, error) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		return nil, nil, err
	}

	fields := map[string]string{}
	for _, spec := range tool.Fields {
		if v := r.FormValue(spec.Name); v != "" {
			fields[spec.Name] = v
		}
	}

	part, header, err := r.FormFile(tool.File.Field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return fields, nil, nil
		}
		return nil, nil, err
	}

	field := &workflow.FileField{
		Name:        tool.File.Field,
		Filename:    filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     part,
	}

	// The upload is staged before dispatch so the source survives the
	// request; the engine can be re-run against the staged copy.
	key := tool.Name + "/" + uuid.NewString() + "/" + field.Filename
	_, err = api.uploads.PutObject(
		r.Context(),
		api.uploadsCfg.BucketUploads,
		key,
		part,
		header.Size,
		minio.PutObjectOptions{ContentType: field.ContentType},
	)
	if err != nil {
		_ = part.Close()
		return nil, nil, err
	}
	if _, err := part.Seek(0, io.SeekStart); err != nil {
		_ = part.Close()
		return nil, nil, err
	}

	api.logger.Info("upload staged",
		"tool", tool.Name,
		"object", key,
		"size", header.Size,
		"request_id", r.Header.Get("X-Request-Id"),
	)
	return fields, &stagedUpload{field: field, part: part}, nil
}

func (api *dashboardAPI) audit(r *http.Request, action, resourceType, resourceID string, payload map[string]any) {
	if api.db == nil {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	event := auditlog.FromRequest(r, identity.Subject, action, resourceType, resourceID, payload)
	if _, err := auditlog.Insert(r.Context(), api.db, event); err != nil {
		api.logger.Warn("audit insert failed",
			"action", action,
			"request_id", r.Header.Get("X-Request-Id"),
			"error", err,
		)
	}
}

func ownerFrom(r *http.Request) resultstore.Owner {
	identity, _ := auth.IdentityFromContext(r.Context())
	return resultstore.Owner{ID: identity.Subject, Email: identity.Email}
}

func (api *dashboardAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *dashboardAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
