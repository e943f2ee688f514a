package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"cellxplore/internal/blob"
)

// cleanKey turns the path below /datasets/ into a blob key. Absolute paths,
// empty segments, dot segments and backslashes are rejected.
func cleanKey(raw string) (string, bool) {
	if raw == "" || strings.HasPrefix(raw, "/") || strings.Contains(raw, "\\") {
		return "", false
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", false
		}
	}
	return raw, true
}

func (h *Handler) handleDataset(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		writeError(w, http.StatusNotFound, "dataset files not configured")
		return
	}
	key, ok := cleanKey(strings.TrimPrefix(r.URL.Path, datasetsRoutePrefix))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid dataset path")
		return
	}
	if to, ok := h.rewrites[key]; ok {
		key = to
	}

	ctx := r.Context()
	if h.presign && h.files.Driver() == blob.DriverS3 {
		if _, err := h.files.Head(ctx, key); err != nil {
			h.datasetError(w, r, key, err)
			return
		}
		url, err := h.files.PresignURL(ctx, key, blob.SignedURLOptions{Method: http.MethodGet, Expiry: h.presignTTL})
		if err == nil {
			http.Redirect(w, r, url, http.StatusTemporaryRedirect)
			return
		}
		if !errors.Is(err, blob.ErrUnsupported) {
			h.datasetError(w, r, key, err)
			return
		}
	}

	info, rc, err := h.files.Get(ctx, key)
	if err != nil {
		h.datasetError(w, r, key, err)
		return
	}
	defer rc.Close()

	ct := info.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(key))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("dataset copy interrupted",
			zap.String("key", key),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
	}
}

func (h *Handler) datasetError(w http.ResponseWriter, r *http.Request, key string, err error) {
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, http.StatusNotFound, "dataset file not found: "+key)
		return
	}
	h.fail(w, r, err)
}
