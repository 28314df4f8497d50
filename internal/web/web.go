package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flyercal/internal/config"
	"flyercal/internal/extract"
	"flyercal/internal/ics"
	appLog "flyercal/internal/log"
	"flyercal/internal/metrics"
	"flyercal/internal/model"
	"flyercal/internal/pipeline"
)

// Processor converts a batch of uploads. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, uploads []model.Upload) []model.Result
}

// Server provides the upload UI and the conversion API.
type Server struct {
	cfg      *config.Config
	proc     Processor
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// embeddedStatic holds the single-page upload UI.
//
//go:embed static
var embeddedStatic embed.FS

// NewServer constructs a new Server. gatherer backs /metrics; nil means the
// default Prometheus registry.
func NewServer(cfg *config.Config, proc Processor, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg,
		proc:     proc,
		gatherer: gatherer,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves h on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, cfg *config.Config, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	appLog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// writeTimeout covers a full batch of bounded model calls.
func writeTimeout(cfg *config.Config) time.Duration {
	perCall := cfg.Model.Timeout()
	if perCall <= 0 {
		return 0
	}
	attempts := max(cfg.Model.Attempts, 1)
	files := max(cfg.Upload.MaxFiles, 1)
	return perCall*time.Duration(attempts*files) + 30*time.Second
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", metrics.Instrument("health", s.handleHealth))
	s.mux.HandleFunc("/api/convert", metrics.Instrument("convert", s.handleConvert))
	s.mux.HandleFunc("/api/convert.ics", metrics.Instrument("convert_ics", s.handleConvertICS))
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Everything else is the embedded upload UI.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded files from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown /api/* paths get a 404, never HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// resultDTO is the JSON view of one converted flyer.
type resultDTO struct {
	Source      string       `json:"source"`
	Page        int          `json:"page"`
	OK          bool         `json:"ok"`
	Fields      model.Fields `json:"fields,omitempty"`
	Event       *model.Event `json:"event,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
	Filename    string       `json:"filename,omitempty"`
	ICS         string       `json:"ics,omitempty"`
	Stage       string       `json:"stage,omitempty"`
	Error       string       `json:"error,omitempty"`
	RawResponse string       `json:"raw_response,omitempty"`
}

// convertResponse is the JSON response shape for /api/convert.
type convertResponse struct {
	Results   []resultDTO `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

func toDTO(r model.Result) resultDTO {
	dto := resultDTO{
		Source:   r.Source,
		Page:     r.Page,
		OK:       r.OK(),
		Fields:   r.Fields,
		Event:    r.Event,
		Warnings: r.Warnings,
		Filename: r.Filename,
		ICS:      string(r.Calendar),
	}
	if r.Err != nil {
		dto.Error = pipeline.Describe(r)
		var se *pipeline.StageError
		if errors.As(r.Err, &se) {
			dto.Stage = se.Stage
		}
		var rpe *extract.ResponseParseError
		if errors.As(r.Err, &rpe) {
			dto.RawResponse = rpe.Raw
		}
	}
	return dto
}

// handleConvert converts every file in the multipart field "files".
//
// POST /api/convert
//   - 200 with per-file results, even when some or all files failed
//   - 400 for a malformed request, 413 when limits are exceeded
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	uploads, status, err := s.readUploads(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	results := s.proc.Process(r.Context(), uploads)
	resp := convertResponse{Results: make([]resultDTO, 0, len(results))}
	for _, res := range results {
		if res.OK() {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, toDTO(res))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConvertICS converts the uploaded files and returns the first
// successful calendar as an attachment.
func (s *Server) handleConvertICS(w http.ResponseWriter, r *http.Request) {
	uploads, status, err := s.readUploads(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	results := s.proc.Process(r.Context(), uploads)
	for _, res := range results {
		if !res.OK() {
			continue
		}
		w.Header().Set("Content-Type", ics.MediaType+"; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Calendar)
		return
	}

	msgs := make([]string, 0, len(results))
	for _, res := range results {
		msgs = append(msgs, pipeline.Describe(res))
	}
	writeError(w, http.StatusUnprocessableEntity, strings.Join(msgs, "; "))
}

// readUploads parses the request and enforces the configured limits.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request) ([]model.Upload, int, error) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return nil, http.StatusMethodNotAllowed, errors.New("method not allowed")
	}

	maxBytes := s.cfg.Upload.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(min(maxBytes, 32<<20)); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", maxBytes)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		return nil, http.StatusBadRequest, errors.New(`no files in form field "files"`)
	}
	if len(files) > s.cfg.Upload.MaxFiles {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("at most %d files per request", s.cfg.Upload.MaxFiles)
	}

	uploads := make([]model.Upload, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		uploads = append(uploads, model.Upload{
			Name:      fh.Filename,
			MediaType: fh.Header.Get("Content-Type"),
			Data:      data,
		})
	}
	appLog.Info("api convert request", "files", len(uploads))
	return uploads, http.StatusOK, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
