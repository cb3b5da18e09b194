package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"ackg/auth"
	"ackg/gallery"
	"ackg/i18n"

	"github.com/go-chi/chi/v5"
)

const (
	maxFormSize   = 64 << 20
	maxFormMemory = 32 << 20
	maxImageSize  = 10 << 20
)

// loadDraft parses the form and returns the draft it belongs to. The token
// comes from the URL for draft operations and from the form on save.
func (s *Server) loadDraft(w http.ResponseWriter, r *http.Request) (*gallery.Draft, string, bool) {
	lang := adminLang(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.Log.Warn("parse admin form", "err", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, lang, false
	}

	token := chi.URLParam(r, "token")
	if token == "" {
		token = r.FormValue("draft")
	}
	d, err := s.Drafts.Get(token, auth.FromContext(r.Context()).UserID)
	if err != nil {
		s.flash(w, r, auth.FlashError, userMessage(lang, err))
		seeAdmin(w, r)
		return nil, lang, false
	}
	return d, lang, true
}

// draftClosed answers requests on a draft that was already submitted or
// cancelled.
func (s *Server) draftClosed(w http.ResponseWriter, r *http.Request, lang string, err error) bool {
	if err == nil {
		return false
	}
	s.flash(w, r, auth.FlashError, userMessage(lang, err))
	seeAdmin(w, r)
	return true
}

// stageUploads stages the files of the "images" field.
func (s *Server) stageUploads(r *http.Request, d *gallery.Draft) ([]gallery.UploadFailure, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File["images"]) == 0 {
		return nil, nil
	}
	var files []gallery.File
	var rejected []gallery.UploadFailure
	for _, fh := range r.MultipartForm.File["images"] {
		f, err := fh.Open()
		if err != nil {
			rejected = append(rejected, gallery.UploadFailure{Name: fh.Filename, Err: err})
			continue
		}
		data, err := io.ReadAll(io.LimitReader(f, maxImageSize+1))
		f.Close()
		switch {
		case err != nil:
			rejected = append(rejected, gallery.UploadFailure{Name: fh.Filename, Err: err})
			continue
		case len(data) > maxImageSize:
			rejected = append(rejected, gallery.UploadFailure{Name: fh.Filename, Err: fmt.Errorf("larger than %d bytes", maxImageSize)})
			continue
		}
		files = append(files, gallery.File{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data})
	}
	_, bad, err := d.Stage(files)
	if err != nil {
		return nil, err
	}
	return append(rejected, bad...), nil
}

func rejectedMessage(lang string, rejected []gallery.UploadFailure) string {
	if len(rejected) == 0 {
		return ""
	}
	names := make([]string, 0, len(rejected))
	for _, f := range rejected {
		names = append(names, f.Name)
	}
	return i18n.T(lang, "admin.images.rejected") + ": " + strings.Join(names, ", ")
}

// redisplay shows the form of d again with the posted fields.
func (s *Server) redisplay(w http.ResponseWriter, r *http.Request, lang string, d *gallery.Draft, msg string) {
	revision, _ := strconv.Atoi(r.FormValue("revision"))
	form := newActivityForm(d, formFields(r), revision)
	form.Error = msg
	status := http.StatusOK
	if msg != "" {
		status = http.StatusBadRequest
	}
	s.renderForm(w, r, lang, form, status)
}

func (s *Server) StageImagesHandler(w http.ResponseWriter, r *http.Request) {
	d, lang, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	rejected, err := s.stageUploads(r, d)
	if s.draftClosed(w, r, lang, err) {
		return
	}
	s.redisplay(w, r, lang, d, rejectedMessage(lang, rejected))
}

func (s *Server) ReorderImageHandler(w http.ResponseWriter, r *http.Request) {
	d, lang, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	index, err1 := strconv.Atoi(r.FormValue("index"))
	dir, err2 := strconv.Atoi(r.FormValue("dir"))
	if err1 != nil || err2 != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	err := d.Reorder(index, dir)
	switch {
	case err == nil:
		s.redisplay(w, r, lang, d, "")
	case errors.Is(err, gallery.ErrCrossBoundary), errors.Is(err, gallery.ErrIndexOutOfRange):
		s.redisplay(w, r, lang, d, userMessage(lang, err))
	default:
		s.draftClosed(w, r, lang, err)
	}
}

func (s *Server) RemoveImageHandler(w http.ResponseWriter, r *http.Request) {
	d, lang, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	err = d.Remove(index)
	switch {
	case err == nil:
		s.redisplay(w, r, lang, d, "")
	case errors.Is(err, gallery.ErrIndexOutOfRange):
		s.redisplay(w, r, lang, d, userMessage(lang, err))
	default:
		s.draftClosed(w, r, lang, err)
	}
}

// CancelDraftHandler drops the draft without touching storage.
func (s *Server) CancelDraftHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := s.Drafts.Get(token, auth.FromContext(r.Context()).UserID); err == nil {
		s.Drafts.Close(token)
	}
	seeAdmin(w, r)
}

// PreviewHandler serves the thumbnail of a staged image.
func (s *Server) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.Drafts.Get(chi.URLParam(r, "token"), auth.FromContext(r.Context()).UserID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	p, ok := d.Preview(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, contentType, err := gallery.Thumbnail(p)
	if err != nil {
		s.Log.Warn("render preview", "name", p.Name, "err", err)
		http.Error(w, "Unprocessable image", http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
