package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ackg/activities"
	"ackg/i18n"
	"ackg/models"

	"github.com/go-chi/chi/v5"
)

// homeCount is the number of recent activities on the home page.
const homeCount = 3

type card struct {
	Activity models.Activity
	Href     string
}

func cards(lang string, list []models.Activity) []card {
	out := make([]card, 0, len(list))
	for _, a := range list {
		out = append(out, card{Activity: a, Href: "/" + lang + "/activite/" + url.PathEscape(a.Slug)})
	}
	return out
}

type pageLink struct {
	Number  int
	URL     string
	Current bool
}

func (s *Server) HomeHandler(w http.ResponseWriter, r *http.Request) {
	lang := chi.URLParam(r, "lang")
	recent, err := s.Activities.Recent(r.Context(), homeCount)
	if err != nil {
		s.Log.Error("load recent activities", "err", err)
	}
	s.renderTemplate(w, r, lang, "home.html", http.StatusOK, map[string]any{
		"Cards": cards(lang, recent),
	})
}

func (s *Server) ActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	lang := chi.URLParam(r, "lang")
	q := r.URL.Query()
	filter := activities.Filter{
		Query: strings.TrimSpace(q.Get("q")),
		Date:  strings.TrimSpace(q.Get("date")),
	}
	number, _ := strconv.Atoi(q.Get("page"))

	list, err := s.Activities.List(r.Context())
	if err != nil {
		s.Log.Error("list activities", "err", err)
	}
	page := activities.Paginate(filter.Apply(list), number, s.Config.PageSize)

	base := "/" + lang + "/activites"
	link := func(n int) string { return pageURL(base, filter, n) }
	links := make([]pageLink, 0, page.Pages)
	for _, n := range page.Numbers() {
		links = append(links, pageLink{Number: n, URL: link(n), Current: n == page.Number})
	}

	s.renderTemplate(w, r, lang, "activities.html", http.StatusOK, map[string]any{
		"Title":   i18n.T(lang, "activities.title"),
		"Filter":  filter,
		"Page":    page,
		"Cards":   cards(lang, page.Items),
		"Pages":   links,
		"PrevURL": link(page.Prev()),
		"NextURL": link(page.Next()),
	})
}

// pageURL keeps the active filters so paging never resets them.
func pageURL(base string, f activities.Filter, n int) string {
	v := url.Values{}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	if f.Date != "" {
		v.Set("date", f.Date)
	}
	if n > 1 {
		v.Set("page", strconv.Itoa(n))
	}
	if len(v) == 0 {
		return base
	}
	return base + "?" + v.Encode()
}

// ActivityHandler shows one activity. Unknown slugs go back to the list.
func (s *Server) ActivityHandler(w http.ResponseWriter, r *http.Request) {
	lang := chi.URLParam(r, "lang")
	a, err := s.Activities.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		if !errors.Is(err, activities.ErrNotFound) {
			s.Log.Error("load activity", "slug", chi.URLParam(r, "slug"), "err", err)
		}
		http.Redirect(w, r, "/"+lang+"/activites", http.StatusFound)
		return
	}
	s.renderTemplate(w, r, lang, "activity.html", http.StatusOK, map[string]any{
		"Title":    a.Title,
		"Activity": a,
		"ShareURL": strings.TrimRight(s.Config.PublicBaseURL, "/") + r.URL.Path,
	})
}

func (s *Server) staticPage(name, titleKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lang := chi.URLParam(r, "lang")
		s.renderTemplate(w, r, lang, name, http.StatusOK, map[string]any{
			"Title": i18n.T(lang, titleKey),
		})
	}
}
