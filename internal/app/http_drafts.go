package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/srinithinsomasundaram/thamly-sub000/internal/search"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/store"
)

type draftView struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Mode        string     `json:"mode"`
	Version     int64      `json:"version"`
	DeletedAt   *time.Time `json:"deletedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toDraftView(d store.Draft) draftView {
	return draftView{
		ID:          d.ID,
		UserID:      d.UserID,
		Title:       d.Title,
		Content:     d.Content,
		Description: d.Description,
		Status:      d.Status,
		Mode:        d.Mode,
		Version:     d.Version,
		DeletedAt:   d.DeletedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// draftBody is the allow-list of client-writable fields; anything else in the
// request is ignored.
type draftBody struct {
	Title       *string `json:"title"`
	Content     *string `json:"content"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Mode        *string `json:"mode"`
	Version     *int64  `json:"version"`
}

// draftID returns the path id, or false when it cannot name a draft.
func draftID(r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func (s *HTTPServer) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	drafts, err := s.service.ListDrafts(r.Context(), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]draftView, 0, len(drafts))
	for _, d := range drafts {
		views = append(views, toDraftView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": views})
}

func (s *HTTPServer) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	id, ok := draftID(r)
	if !ok {
		s.fail(w, r, errNotFound)
		return
	}
	draft, err := s.service.GetDraft(r.Context(), identity.UserID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": toDraftView(draft)})
}

func (s *HTTPServer) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	var body draftBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	draft, err := s.service.CreateDraft(r.Context(), identity.UserID, store.DraftInput{
		Title:       body.Title,
		Content:     body.Content,
		Description: body.Description,
		Status:      body.Status,
		Mode:        body.Mode,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"draft": toDraftView(draft)})
}

func (s *HTTPServer) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	id, ok := draftID(r)
	if !ok {
		s.fail(w, r, errNotFound)
		return
	}
	var body draftBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	draft, err := s.service.UpdateDraft(r.Context(), identity.UserID, id, store.DraftPatch{
		Title:       body.Title,
		Content:     body.Content,
		Description: body.Description,
		Status:      body.Status,
		Mode:        body.Mode,
		Version:     body.Version,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": toDraftView(draft)})
}

func (s *HTTPServer) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	id, ok := draftID(r)
	if !ok {
		s.fail(w, r, errNotFound)
		return
	}
	if err := s.service.DeleteDraft(r.Context(), identity.UserID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSearchDrafts(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	resp := s.service.SearchDrafts(r.Context(), identity.UserID, search.Query{
		Text:   query.Get("q"),
		Limit:  limit,
		Offset: offset,
	})
	writeJSON(w, http.StatusOK, resp)
}
