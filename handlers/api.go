package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ackg/activities"
	"ackg/i18n"
	"ackg/models"

	"github.com/go-chi/chi/v5"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// apiLang picks the language of API messages from ?lang= or the request.
func apiLang(r *http.Request) string {
	if l := r.URL.Query().Get("lang"); i18n.IsSupported(l) {
		return l
	}
	return i18n.Detect(r)
}

// APIListActivitiesHandler returns one page of activities, filtered like the
// public list.
func (s *Server) APIListActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := activities.Filter{
		Query: strings.TrimSpace(q.Get("q")),
		Date:  strings.TrimSpace(q.Get("date")),
	}
	number, _ := strconv.Atoi(q.Get("page"))

	list, err := s.Activities.List(r.Context())
	if err != nil {
		s.Log.Error("api list activities", "err", err)
		sendJSONResponse(w, http.StatusBadGateway, APIResponse{Status: "error", Message: i18n.T(apiLang(r), "admin.remoteError")})
		return
	}
	page := activities.Paginate(filter.Apply(list), number, s.Config.PageSize)
	items := page.Items
	if items == nil {
		items = []models.Activity{}
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{
		Status: "success",
		Data: map[string]any{
			"items": items,
			"page":  page.Number,
			"pages": page.Pages,
			"total": page.Total,
		},
	})
}

func (s *Server) APIGetActivityHandler(w http.ResponseWriter, r *http.Request) {
	a, err := s.Activities.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		if errors.Is(err, activities.ErrNotFound) {
			sendJSONResponse(w, http.StatusNotFound, APIResponse{Status: "error", Message: i18n.T(apiLang(r), "admin.activity.notFound")})
			return
		}
		s.Log.Error("api get activity", "err", err)
		sendJSONResponse(w, http.StatusBadGateway, APIResponse{Status: "error", Message: i18n.T(apiLang(r), "admin.remoteError")})
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: a})
}
