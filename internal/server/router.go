// Package server assembles the HTTP routes of the upload service.
package server

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	appMiddleware "github.com/mediavault/service/internal/middleware"
	"github.com/mediavault/service/internal/upload"
)

// Options configures NewRouter.
type Options struct {
	APIKey    string
	StaticDir string
	UploadDir string
	Uploads   *upload.Handler
	Logger    *slog.Logger
}

// NewRouter returns the service's HTTP handler.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(opts.Logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(opts.StaticDir, "index.html"))
	})
	r.Handle("/static/*", http.StripPrefix("/static/", fileServer(opts.StaticDir)))
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", fileServer(opts.UploadDir)))

	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.RequireAPIKey(opts.APIKey))
		r.Post("/upload/", opts.Uploads.Upload)
		r.Post("/upload", opts.Uploads.Upload)
	})

	return r
}

// fileServer serves files under root without directory listings.
func fileServer(root string) http.Handler {
	return http.FileServer(noListingFS{http.Dir(root)})
}

// noListingFS hides directories and dot files, which include in-progress
// ".upload-*" and ".compress-*" temp files.
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	if strings.HasPrefix(path.Base(name), ".") {
		return nil, os.ErrNotExist
	}
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
