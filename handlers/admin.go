package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ackg/activities"
	"ackg/auth"
	"ackg/config"
	"ackg/gallery"
	"ackg/i18n"
	"ackg/models"

	"github.com/dchest/captcha"
	"github.com/go-chi/chi/v5"
)

// activityForm is the state of an add or edit form.
type activityForm struct {
	Action     string
	Token      string
	ActivityID string
	Revision   int
	Title      string
	Date       string
	Location   string
	Content    string
	Items      []gallery.Item
	Error      string
}

func newActivityForm(d *gallery.Draft, f activities.Fields, revision int) *activityForm {
	action := "/admin/activities"
	if d.ActivityID != "" {
		action += "/" + d.ActivityID
	}
	return &activityForm{
		Action:     action,
		Token:      d.Token,
		ActivityID: d.ActivityID,
		Revision:   revision,
		Title:      f.Title,
		Date:       f.Date,
		Location:   f.Location,
		Content:    f.Content,
		Items:      d.Items(),
	}
}

func formFields(r *http.Request) activities.Fields {
	return activities.Fields{
		Title:    strings.TrimSpace(r.FormValue("title")),
		Date:     strings.TrimSpace(r.FormValue("date")),
		Location: strings.TrimSpace(r.FormValue("location")),
		Content:  strings.TrimSpace(r.FormValue("content")),
	}
}

// adminLang is the language of the unprefixed admin pages. ?lang= switches
// it and is remembered in the language cookie.
func adminLang(w http.ResponseWriter, r *http.Request) string {
	if l := r.URL.Query().Get("lang"); i18n.IsSupported(l) {
		i18n.SetCookie(w, l)
		return l
	}
	return i18n.Detect(r)
}

func (s *Server) renderAdmin(w http.ResponseWriter, r *http.Request, lang, name string, status int, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["SwitchFR"] = "/admin?lang=" + i18n.French
	data["SwitchKU"] = "/admin?lang=" + i18n.Kurdish
	data["Session"] = auth.FromContext(r.Context())
	if _, ok := data["Title"]; !ok {
		data["Title"] = i18n.T(lang, "admin.title")
	}
	s.renderTemplate(w, r, lang, name, status, data)
}

func seeAdmin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

// loginPage is shown to visitors without a session. Other admin URLs send
// them to /admin first.
func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || strings.TrimSuffix(r.URL.Path, "/") != "/admin" {
		seeAdmin(w, r)
		return
	}
	lang := adminLang(w, r)
	data := map[string]any{"Delegated": s.Auth.Mode() == config.AuthDelegated}
	if data["Delegated"] == true {
		data["CaptchaID"] = captcha.New()
	}
	s.renderAdmin(w, r, lang, "admin_login.html", http.StatusOK, data)
}

// deniedPage is shown to signed-in users without the admin role.
func (s *Server) deniedPage(w http.ResponseWriter, r *http.Request) {
	lang := adminLang(w, r)
	s.renderAdmin(w, r, lang, "admin_denied.html", http.StatusForbidden, map[string]any{
		"Title": i18n.T(lang, "admin.denied.title"),
	})
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	lang := adminLang(w, r)
	ip := getClientIP(r)
	if !s.loginLimiter.Allow(ip) {
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.tooMany"))
		seeAdmin(w, r)
		return
	}

	_, err := s.Auth.Login(r.Context(), w, r, r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		s.loginLimiter.RecordFailure(ip)
		msg := i18n.T(lang, "admin.error")
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.Log.Warn("sign-in failed", "ip", ip, "err", err)
			msg = userMessage(lang, err)
		}
		s.flash(w, r, auth.FlashError, msg)
		seeAdmin(w, r)
		return
	}

	s.loginLimiter.Reset(ip)
	s.flash(w, r, auth.FlashSuccess, i18n.T(lang, "admin.success"))
	seeAdmin(w, r)
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Auth.Logout(r.Context(), w, r); err != nil {
		s.Log.Warn("sign-out", "err", err)
	}
	seeAdmin(w, r)
}

// ResetHandler asks the identity provider for a password reset email. The
// captcha and the rate limit keep the form from being used to send mail in
// bulk.
func (s *Server) ResetHandler(w http.ResponseWriter, r *http.Request) {
	lang := adminLang(w, r)
	if s.Auth.Mode() != config.AuthDelegated {
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.reset.unsupported"))
		seeAdmin(w, r)
		return
	}
	ip := getClientIP(r)
	if !s.resetLimiter.Allow(ip) {
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.tooMany"))
		seeAdmin(w, r)
		return
	}
	s.resetLimiter.RecordFailure(ip)

	if !captcha.VerifyString(r.FormValue("captcha_id"), r.FormValue("captcha")) {
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.captcha.invalid"))
		seeAdmin(w, r)
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	if email == "" {
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.activity.fillAll"))
		seeAdmin(w, r)
		return
	}

	redirect := strings.TrimRight(s.Config.PublicBaseURL, "/") + "/admin"
	if err := s.Auth.RequestReset(r.Context(), email, redirect); err != nil {
		s.Log.Warn("password reset request", "err", err)
		s.flash(w, r, auth.FlashError, userMessage(lang, err))
		seeAdmin(w, r)
		return
	}
	s.flash(w, r, auth.FlashSuccess, i18n.T(lang, "admin.password.resetSent"))
	seeAdmin(w, r)
}

func (s *Server) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	lang := adminLang(w, r)
	current := r.FormValue("current")
	next := r.FormValue("new")

	switch {
	case next == "":
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.password.empty"))
	case next != r.FormValue("confirm"):
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.password.mismatch"))
	default:
		err := s.Auth.ChangePassword(r.Context(), w, r, current, next)
		switch {
		case err == nil:
			s.flash(w, r, auth.FlashSuccess, i18n.T(lang, "admin.password.changed"))
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.error"))
		case errors.Is(err, auth.ErrInvalidPassword):
			s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.password.empty"))
		default:
			s.Log.Warn("change password", "err", err)
			s.flash(w, r, auth.FlashError, userMessage(lang, err))
		}
	}
	seeAdmin(w, r)
}

func adminFilter(r *http.Request) activities.Filter {
	return activities.Filter{
		Query: strings.TrimSpace(r.URL.Query().Get("q")),
		Date:  strings.TrimSpace(r.URL.Query().Get("date")),
	}
}

// DashboardHandler lists the activities and offers a fresh add form.
func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	lang := adminLang(w, r)
	sess := auth.FromContext(r.Context())
	d := s.Drafts.Open(sess.UserID, "", nil)
	s.renderDashboard(w, r, lang, newActivityForm(d, activities.Fields{}, 0), http.StatusOK)
}

func (s *Server) renderDashboard(w http.ResponseWriter, r *http.Request, lang string, form *activityForm, status int) {
	filter := adminFilter(r)
	list, err := s.Activities.List(r.Context())
	if err != nil {
		s.Log.Error("list activities", "err", err)
		s.flash(w, r, auth.FlashError, userMessage(lang, err))
	}
	s.renderAdmin(w, r, lang, "admin_dashboard.html", status, map[string]any{
		"Filter":     filter,
		"Activities": filter.Apply(list),
		"Form":       form,
	})
}

// ActivityListHandler renders the list alone; open consoles reload it when
// the live hub reports a change.
func (s *Server) ActivityListHandler(w http.ResponseWriter, r *http.Request) {
	lang := adminLang(w, r)
	list, err := s.Activities.List(r.Context())
	if err != nil {
		s.Log.Error("list activities", "err", err)
		http.Error(w, userMessage(lang, err), http.StatusBadGateway)
		return
	}
	s.renderFragment(w, r, lang, "admin_dashboard.html", "activity_list", map[string]any{
		"Activities": adminFilter(r).Apply(list),
	})
}

func (s *Server) EditActivityHandler(w http.ResponseWriter, r *http.Request) {
	lang := adminLang(w, r)
	a, err := s.Activities.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.flash(w, r, auth.FlashError, userMessage(lang, err))
		seeAdmin(w, r)
		return
	}
	sess := auth.FromContext(r.Context())
	d := s.Drafts.Open(sess.UserID, a.ID, a.Gallery())
	form := newActivityForm(d, activities.Fields{
		Title:    a.Title,
		Date:     a.Date,
		Location: a.Location,
		Content:  a.Content,
	}, a.Revision)
	s.renderEdit(w, r, lang, form, http.StatusOK)
}

func (s *Server) renderEdit(w http.ResponseWriter, r *http.Request, lang string, form *activityForm, status int) {
	s.renderAdmin(w, r, lang, "admin_edit.html", status, map[string]any{
		"Title": i18n.T(lang, "admin.editActivity.title"),
		"Form":  form,
	})
}

// renderForm shows a draft again, on the dashboard for a new activity or on
// the edit page.
func (s *Server) renderForm(w http.ResponseWriter, r *http.Request, lang string, form *activityForm, status int) {
	if form.ActivityID == "" {
		s.renderDashboard(w, r, lang, form, status)
		return
	}
	s.renderEdit(w, r, lang, form, status)
}

func (s *Server) CreateActivityHandler(w http.ResponseWriter, r *http.Request) {
	d, lang, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	if d.ActivityID != "" {
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.activity.formExpired"))
		seeAdmin(w, r)
		return
	}
	fields := formFields(r)
	rejected, err := s.stageUploads(r, d)
	if s.draftClosed(w, r, lang, err) {
		return
	}
	if msg := rejectedMessage(lang, rejected); msg != "" {
		form := newActivityForm(d, fields, 0)
		form.Error = msg
		s.renderForm(w, r, lang, form, http.StatusBadRequest)
		return
	}
	if err := activities.Validate(fields); err != nil {
		form := newActivityForm(d, fields, 0)
		form.Error = i18n.T(lang, "admin.activity.fillAll")
		s.renderForm(w, r, lang, form, http.StatusBadRequest)
		return
	}

	var created models.Activity
	res, err := d.CommitWith(r.Context(), s.Objects, func(ctx context.Context, images []string) error {
		f := fields
		f.Images = images
		a, err := s.Activities.Create(ctx, f)
		created = a
		return err
	}, s.Activities.InUse)
	if err != nil {
		if res.DeleteErr != nil {
			s.Log.Warn("orphan upload cleanup failed", "err", res.DeleteErr)
		}
		s.commitFailed(w, r, lang, d, fields, 0, err)
		return
	}

	s.reportCommit(w, r, lang, res)
	s.flash(w, r, auth.FlashSuccess, i18n.T(lang, "admin.activity.added"))
	s.publish("created", created.ID)
	seeAdmin(w, r)
}

func (s *Server) UpdateActivityHandler(w http.ResponseWriter, r *http.Request) {
	d, lang, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if d.ActivityID != id {
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.activity.formExpired"))
		seeAdmin(w, r)
		return
	}
	fields := formFields(r)
	revision, _ := strconv.Atoi(r.FormValue("revision"))

	rejected, err := s.stageUploads(r, d)
	if s.draftClosed(w, r, lang, err) {
		return
	}
	if msg := rejectedMessage(lang, rejected); msg != "" {
		form := newActivityForm(d, fields, revision)
		form.Error = msg
		s.renderForm(w, r, lang, form, http.StatusBadRequest)
		return
	}
	if err := activities.Validate(fields); err != nil {
		form := newActivityForm(d, fields, revision)
		form.Error = i18n.T(lang, "admin.activity.fillAll")
		s.renderForm(w, r, lang, form, http.StatusBadRequest)
		return
	}

	res, err := d.CommitWith(r.Context(), s.Objects, func(ctx context.Context, images []string) error {
		_, err := s.Activities.Update(ctx, id, activities.Patch{
			Title:    &fields.Title,
			Date:     &fields.Date,
			Location: &fields.Location,
			Content:  &fields.Content,
			Images:   &images,
			Revision: revision,
		})
		return err
	}, s.Activities.InUse)
	if err != nil {
		if res.DeleteErr != nil {
			s.Log.Warn("orphan upload cleanup failed", "err", res.DeleteErr)
		}
		s.commitFailed(w, r, lang, d, fields, revision, err)
		return
	}

	s.reportCommit(w, r, lang, res)
	s.flash(w, r, auth.FlashSuccess, i18n.T(lang, "admin.activity.updated"))
	s.publish("updated", id)
	seeAdmin(w, r)
}

// commitFailed reports a failed save. The draft is still open, so the form
// is shown again with everything the admin entered.
func (s *Server) commitFailed(w http.ResponseWriter, r *http.Request, lang string, d *gallery.Draft, fields activities.Fields, revision int, err error) {
	switch {
	case errors.Is(err, gallery.ErrAlreadyCommitted), errors.Is(err, gallery.ErrDraftClosed):
		s.flash(w, r, auth.FlashError, userMessage(lang, err))
		seeAdmin(w, r)
		return
	case errors.Is(err, activities.ErrNotFound):
		s.Drafts.Close(d.Token)
		s.flash(w, r, auth.FlashError, userMessage(lang, err))
		seeAdmin(w, r)
		return
	}
	s.Log.Error("save activity", "id", d.ActivityID, "err", err)
	status := http.StatusBadGateway
	if errors.Is(err, activities.ErrConflict) {
		status = http.StatusConflict
	}
	form := newActivityForm(d, fields, revision)
	form.Error = userMessage(lang, err)
	s.renderForm(w, r, lang, form, status)
}

// reportCommit flashes the uploads and deletions that did not go through.
// The record itself was saved.
func (s *Server) reportCommit(w http.ResponseWriter, r *http.Request, lang string, res gallery.CommitResult) {
	if len(res.Failures) > 0 {
		names := make([]string, 0, len(res.Failures))
		for _, f := range res.Failures {
			s.Log.Warn("image upload failed", "name", f.Name, "err", f.Err)
			names = append(names, f.Name)
		}
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.images.uploadFailed")+": "+strings.Join(names, ", "))
	}
	if res.DeleteErr != nil {
		s.Log.Warn("deferred image deletion failed", "err", res.DeleteErr)
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.images.releaseFailed"))
	}
}

func (s *Server) DeleteActivityHandler(w http.ResponseWriter, r *http.Request) {
	lang := adminLang(w, r)
	id := chi.URLParam(r, "id")
	res, err := s.Activities.Delete(r.Context(), id)
	if err != nil {
		s.Log.Warn("delete activity", "id", id, "err", err)
		s.flash(w, r, auth.FlashError, userMessage(lang, err))
		seeAdmin(w, r)
		return
	}
	s.flash(w, r, auth.FlashSuccess, i18n.T(lang, "admin.activity.deleted"))
	if res.ReleaseErr != nil {
		s.flash(w, r, auth.FlashError, i18n.T(lang, "admin.images.releaseFailed"))
	}
	s.publish("deleted", res.Activity.ID)
	seeAdmin(w, r)
}

func (s *Server) publish(action, id string) {
	if s.Hub != nil {
		s.Hub.Publish(action, id)
	}
}
