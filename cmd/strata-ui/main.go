package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"strata/internal/ui"
	"strata/pkg/strata"

	_ "strata/pkg/backend/local"
	_ "strata/pkg/backend/memory"
	_ "strata/pkg/backend/minio"
	_ "strata/pkg/backend/s3"
)

var (
	//go:embed static
	staticFS embed.FS
)

type Server struct {
	store *strata.Store
}

// statusFor maps a storage error onto the HTTP status the page should carry.
func statusFor(err error) int {
	switch {
	case errors.Is(err, strata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, strata.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, strata.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, strata.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes an error the way the caller can consume it: an inline
// fragment for htmx requests, a plain error page otherwise.
func respondError(w http.ResponseWriter, r *http.Request, msg string, code int) {
	if r.Header.Get("HX-Request") == "true" {
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, "<p class=\"error-message\">%s</p>", html.EscapeString(msg))
		return
	}
	http.Error(w, msg, code)
}

// respondRedirect issues a redirect that works for both boosted and plain
// form submissions.
func respondRedirect(w http.ResponseWriter, r *http.Request, url string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", url)
		w.WriteHeader(http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// containers fetches the container list in the shape the components render.
func (s *Server) containers(ctx context.Context) ([]ui.Container, error) {
	infos, err := s.store.ListContainers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ui.Container, 0, len(infos))
	for _, info := range infos {
		out = append(out, ui.Container{
			Name:    info.Name,
			Created: info.Created.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (s *Server) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	containers, err := s.containers(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list containers: %v", err), statusFor(err))
		return
	}

	if err := ui.ContainersPage(containers).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render containers page: %v", err), http.StatusInternalServerError)
		return
	}
}

func (s *Server) Browse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	container := r.PathValue("container")
	if container == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	// Prefixes always end with the delimiter; the URL may omit it.
	prefix := r.PathValue("prefix")
	if prefix != "" && !strings.HasSuffix(prefix, strata.Delimiter) {
		prefix += strata.Delimiter
	}

	// Always fetch all containers so the sidebar can be rendered.
	containers, err := s.containers(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list containers: %v", err), statusFor(err))
		return
	}

	entries, err := s.store.ListObjects(ctx, container, prefix)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list objects: %v", err), statusFor(err))
		return
	}

	rows := make([]ui.Entry, 0, len(entries))
	for _, entry := range entries {
		switch e := entry.(type) {
		case strata.ObjectEntry:
			rows = append(rows, ui.Entry{
				Key:          e.Path,
				Size:         e.Size,
				LastModified: e.LastModified.UTC().Format(time.RFC3339),
			})
		case strata.PrefixEntry:
			rows = append(rows, ui.Entry{Key: e.Prefix, IsPrefix: true})
		}
	}

	if err := ui.ObjectsPage(containers, container, prefix, rows).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render objects page: %v", err), http.StatusInternalServerError)
		return
	}
}

func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	container := r.PathValue("container")
	key := r.PathValue("key")

	entry, err := s.store.StatObject(ctx, container, key)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to stat object: %v", err), statusFor(err))
		return
	}

	rc, err := s.store.GetObject(ctx, container, key)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to fetch object: %v", err), statusFor(err))
		return
	}
	defer rc.Close()

	contentType := entry.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(key)))

	if _, err := io.Copy(w, rc); err != nil {
		// Headers are out; all we can do is log.
		slog.Error("failed to stream object", "container", container, "key", key, "err", err)
	}
}

func (s *Server) CreateContainer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		respondError(w, r, fmt.Sprintf("failed to parse form: %v", err), http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		respondError(w, r, "container name is required", http.StatusBadRequest)
		return
	}

	if err := s.store.CreateContainer(ctx, name, strata.ContainerOptions{}); err != nil {
		slog.Error("failed to create container", "container", name, "err", err)
		respondError(w, r, fmt.Sprintf("failed to create container: %v", err), statusFor(err))
		return
	}

	respondRedirect(w, r, ui.BrowseHref(name, ""))
}

func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	container := r.PathValue("container")

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, r, fmt.Sprintf("failed to parse upload: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, "a file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	prefix := r.FormValue("prefix")

	// Some browsers send a full client-side path as the filename.
	name := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		respondError(w, r, "upload has no usable filename", http.StatusBadRequest)
		return
	}

	opts := strata.PutOptions{}
	if contentType := header.Header.Get("Content-Type"); contentType != "" {
		opts.Metadata = strata.Metadata{strata.MetaContentType: contentType}
	}

	if err := s.store.PutObject(ctx, container, prefix+name, strata.ReaderN(file, header.Size), opts); err != nil {
		slog.Error("failed to upload object", "container", container, "key", prefix+name, "err", err)
		respondError(w, r, fmt.Sprintf("failed to upload object: %v", err), statusFor(err))
		return
	}

	respondRedirect(w, r, ui.BrowseHref(container, prefix))
}

func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	container := r.PathValue("container")

	if err := r.ParseForm(); err != nil {
		respondError(w, r, fmt.Sprintf("failed to parse form: %v", err), http.StatusBadRequest)
		return
	}

	key := r.FormValue("key")
	if key == "" {
		respondError(w, r, "object key is required", http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteObject(ctx, container, key); err != nil {
		slog.Error("failed to delete object", "container", container, "key", key, "err", err)
		respondError(w, r, fmt.Sprintf("failed to delete object: %v", err), statusFor(err))
		return
	}

	respondRedirect(w, r, ui.BrowseHref(container, r.FormValue("prefix")))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func Run(ctx context.Context) error {

	// A .env next to the binary is a development convenience, not a requirement.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	var (
		httpPort  = getEnv("STRATA_UI_PORT", "9100")
		provider  = getEnv("STRATA_UI_PROVIDER", "minio")
		endpoint  = os.Getenv("STRATA_UI_ENDPOINT")
		accessKey = os.Getenv("STRATA_UI_ACCESS_KEY")
		secretKey = os.Getenv("STRATA_UI_SECRET_KEY")
		region    = os.Getenv("STRATA_UI_REGION")
		secure    = os.Getenv("STRATA_UI_SECURE")
		dataDir   = os.Getenv("STRATA_UI_DIR")
		username  = os.Getenv("STRATA_UI_USERNAME")
		password  = os.Getenv("STRATA_UI_PASSWORD")
	)

	// Logging setup consistent with the CLI.
	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	slog.SetDefault(slog.New(handler))

	if provider == "minio" {
		// Development defaults matching a stock local MinIO.
		if endpoint == "" {
			endpoint = "localhost:9000"
		}
		if accessKey == "" {
			accessKey = "minioadmin"
		}
		if secretKey == "" {
			secretKey = "minioadmin"
		}
	}

	settings := map[string]string{}
	for key, value := range map[string]string{
		"endpoint":   endpoint,
		"access_key": accessKey,
		"secret_key": secretKey,
		"region":     region,
		"secure":     secure,
		"dir":        dataDir,
	} {
		if value != "" {
			settings[key] = value
		}
	}

	store, err := strata.Open(ctx, provider, settings)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	mux := http.NewServeMux()
	// Serve embedded static assets from /static/
	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return fmt.Errorf("failed to access embedded static assets: %w", err)
	}

	server := &Server{
		store: store,
	}

	mux.HandleFunc("GET /{$}", server.Home)
	mux.HandleFunc("GET /c/{container}", server.Browse)
	mux.HandleFunc("GET /c/{container}/{prefix...}", server.Browse)
	mux.HandleFunc("GET /o/{container}/{key...}", server.Download)
	mux.HandleFunc("POST /containers", server.CreateContainer)
	mux.HandleFunc("POST /c/{container}/upload", server.Upload)
	mux.HandleFunc("POST /c/{container}/delete", server.Delete)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticContent))))

	var root http.Handler = mux
	root = ui.LogRequest(root)
	if username != "" && password != "" {
		root = ui.BasicAuth(username, password)(root)
	}
	root = ui.Recoverer(root)

	srv := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           root,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	slog.Info("Starting Strata UI server", "port", httpPort, "provider", provider)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("strata UI server failed: %w", err)
	}

	return nil
}

func main() {
	if err := Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
