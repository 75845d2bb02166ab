package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kabelnet/ispbot/internal/models"
)

// internalErrorBody is written when a response cannot be encoded.
var internalErrorBody = []byte(`{"status":"error","message":"internal server error"}` + "\n")

// respond writes body as JSON. Encoding happens before the header is written,
// so a failure still turns into a 500. Responses are never cached.
func respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Server.respond: failed to encode response", "error", err,
			"path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		status, data = http.StatusInternalServerError, internalErrorBody
	} else {
		data = append(data, '\n')
	}

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("Server.respond: client went away", "error", err, "path", r.URL.Path)
	}
}

// respondOK wraps result in the success envelope.
func respondOK(w http.ResponseWriter, r *http.Request, result any) {
	respond(w, r, http.StatusOK, models.Success(result))
}

// respondError wraps msg in the error envelope. Server-side failures are
// logged with the request ID.
func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status >= http.StatusInternalServerError {
		slog.Error("Server.respondError", "status", status, "message", msg,
			"path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
	} else {
		slog.Debug("Server.respondError", "status", status, "message", msg, "path", r.URL.Path)
	}
	respond(w, r, status, models.Error(msg))
}
