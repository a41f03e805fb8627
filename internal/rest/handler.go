// Package rest exposes the document store over HTTP: CRUD by collection and
// id, and collection queries in the same {where, orderBy, limit, offset} form
// the realtime protocol accepts.
package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/markb/firelite/internal/docstore"
	"github.com/markb/firelite/internal/log"
	"github.com/markb/firelite/internal/query"
)

// Error codes returned in {code, message} bodies, alongside the query codes.
const (
	CodeInvalidJSON = "INVALID_JSON"
	CodeNotFound    = "NOT_FOUND"
	CodeInternal    = "INTERNAL_ERROR"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

type Handler struct {
	store docstore.Store
}

func NewHandler(store docstore.Store) *Handler {
	return &Handler{store: store}
}

// HandleCreate inserts the body under a generated id.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collectionParam(w, r)
	if !ok {
		return
	}
	data, ok := h.decodeObject(w, r)
	if !ok {
		return
	}

	doc, err := h.store.Create(r.Context(), collection, data)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.refParams(w, r)
	if !ok {
		return
	}

	doc, err := h.store.Get(r.Context(), collection, id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// HandleSet creates or replaces the document.
func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.refParams(w, r)
	if !ok {
		return
	}
	data, ok := h.decodeObject(w, r)
	if !ok {
		return
	}

	doc, err := h.store.Set(r.Context(), collection, id, data)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// HandleUpdate shallow-merges the body into an existing document.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.refParams(w, r)
	if !ok {
		return
	}
	patch, ok := h.decodeObject(w, r)
	if !ok {
		return
	}

	doc, err := h.store.Update(r.Context(), collection, id, patch)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.refParams(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), collection, id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleQuery runs the query in the body against the collection. An empty
// body selects the whole collection. Accept: text/csv returns CSV.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collectionParam(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidJSON, "failed to read request body")
		return
	}
	q, err := query.Parse(raw)
	if err != nil {
		log.Debug("rest: invalid query", "path", r.URL.Path, "error", err.Error())
		if qe, ok := query.AsError(err); ok {
			h.writeError(w, http.StatusBadRequest, string(qe.Code), qe.Message)
			return
		}
		h.writeError(w, http.StatusBadRequest, string(query.CodeInvalidQuery), "invalid query")
		return
	}

	docs, err := h.store.Find(r.Context(), collection, q)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/csv") {
		h.writeCSV(w, docs)
		return
	}
	h.writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) collectionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	collection := chi.URLParam(r, "collection")
	if err := docstore.ValidateName("collection", collection); err != nil {
		h.writeError(w, http.StatusBadRequest, string(query.CodeInvalidArgument), err.Error())
		return "", false
	}
	return collection, true
}

func (h *Handler) refParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	collection, ok := h.collectionParam(w, r)
	if !ok {
		return "", "", false
	}
	id := chi.URLParam(r, "id")
	if err := docstore.ValidateName("document id", id); err != nil {
		h.writeError(w, http.StatusBadRequest, string(query.CodeInvalidArgument), err.Error())
		return "", "", false
	}
	return collection, id, true
}

// decodeObject reads a JSON object body.
func (h *Handler) decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var data map[string]any
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(&data); err != nil || data == nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidJSON, "request body must be a JSON object")
		return nil, false
	}
	return data, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, docstore.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, CodeNotFound, "document not found")
		return
	}
	if qe, ok := query.AsError(err); ok {
		h.writeError(w, http.StatusBadRequest, string(qe.Code), qe.Message)
		return
	}
	log.Error("rest: store operation failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	h.writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}
