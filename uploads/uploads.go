// Package uploads is the standalone image upload endpoint. It stores files in
// its own directory and shares nothing with the activity data.
package uploads

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// MaxUploadSize bounds a single upload request.
const MaxUploadSize = 10 << 20

var allowedTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

type Server struct {
	Dir string
	Log *slog.Logger
}

func NewServer(dir string, log *slog.Logger) (*Server, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{Dir: dir, Log: log}, nil
}

// Routes returns the router of the upload endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Post("/api/images", s.upload)
	r.Get("/api/images", s.list)
	r.Get("/api/images/{name}", s.get)
	r.Delete("/api/images/{name}", s.delete)
	r.Get("/uploads/{name}", s.serve)

	notFound := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Route not found"})
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// cleanName keeps only the base name so requests cannot leave the directory.
func cleanName(name string) (string, bool) {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", false
	}
	return name, true
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			errorJSON(w, http.StatusRequestEntityTooLarge, "Upload error")
			return
		}
		errorJSON(w, http.StatusBadRequest, "No image uploaded")
		return
	}
	defer file.Close()

	ct := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	typeExt, ok := allowedTypes[ct]
	if !ok {
		errorJSON(w, http.StatusBadRequest, "Invalid file type")
		return
	}

	// The extension follows the checked type; the client filename is ignored.
	name := "img_" + uuid.NewString() + "." + typeExt
	path := filepath.Join(s.Dir, name)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		s.Log.Error("create upload", "err", err)
		errorJSON(w, http.StatusInternalServerError, "Failed to save image")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		s.Log.Error("write upload", "err", err)
		errorJSON(w, http.StatusInternalServerError, "Failed to save image")
		return
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		errorJSON(w, http.StatusInternalServerError, "Failed to save image")
		return
	}

	s.Log.Info("image uploaded", "name", name, "size", header.Size)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": baseURL(r) + "/uploads/" + name})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "Failed to list images")
		return
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) exists(name string) (string, bool) {
	name, ok := cleanName(name)
	if !ok {
		return "", false
	}
	info, err := os.Stat(filepath.Join(s.Dir, name))
	if err != nil || info.IsDir() {
		return "", false
	}
	return name, true
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	name, ok := s.exists(chi.URLParam(r, "name"))
	if !ok {
		errorJSON(w, http.StatusNotFound, "Image not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": baseURL(r) + "/uploads/" + name})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	name, ok := s.exists(chi.URLParam(r, "name"))
	if !ok {
		errorJSON(w, http.StatusNotFound, "Image not found")
		return
	}
	if err := os.Remove(filepath.Join(s.Dir, name)); err != nil {
		s.Log.Error("delete upload", "name", name, "err", err)
		errorJSON(w, http.StatusInternalServerError, "Failed to delete image")
		return
	}
	s.Log.Info("image deleted", "name", name)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": name})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	name, ok := s.exists(chi.URLParam(r, "name"))
	if !ok {
		errorJSON(w, http.StatusNotFound, "Image not found")
		return
	}
	ct, ok := contentTypeOf(name)
	if !ok {
		errorJSON(w, http.StatusNotFound, "Image not found")
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, r, filepath.Join(s.Dir, name))
}

// contentTypeOf maps a stored file back to its image type. Files with any
// other extension are never served.
func contentTypeOf(name string) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for ct, e := range allowedTypes {
		if e == ext {
			return ct, true
		}
	}
	if ext == "jpeg" {
		return "image/jpeg", true
	}
	return "", false
}
