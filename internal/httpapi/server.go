package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hadesus/analyzerforCP/internal/docx"
	"github.com/hadesus/analyzerforCP/internal/formulary"
	"github.com/hadesus/analyzerforCP/internal/metrics"
	"github.com/hadesus/analyzerforCP/internal/model"
	"github.com/hadesus/analyzerforCP/internal/pipeline"
	"github.com/hadesus/analyzerforCP/internal/report"
	"go.uber.org/zap"
)

const (
	defaultMaxUpload = 32 << 20
	maxExportBody    = 16 << 20
)

// Analyzer runs the document pipeline over an uploaded file.
type Analyzer interface {
	Run(ctx context.Context, data []byte) (model.DocumentAnalysis, error)
}

// Exporter renders a finished analysis.
type Exporter interface {
	Bytes(ctx context.Context, doc model.DocumentAnalysis, format report.Format) ([]byte, error)
}

type Options struct {
	Analyzer        Analyzer
	Exporter        Exporter
	Formulary       *formulary.Index
	CacheEnabled    bool
	CORSOrigins     []string
	ClientRateLimit float64
	MaxUploadBytes  int64
	Logger          *zap.Logger
}

type Server struct {
	analyzer     Analyzer
	exporter     Exporter
	formulary    *formulary.Index
	cacheEnabled bool
	maxUpload    int64
	limiter      *clientLimiter
	logger       *zap.Logger
	router       chi.Router
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if opts.ClientRateLimit <= 0 {
		opts.ClientRateLimit = 2
	}
	s := &Server{
		analyzer:     opts.Analyzer,
		exporter:     opts.Exporter,
		formulary:    opts.Formulary,
		cacheEnabled: opts.CacheEnabled,
		maxUpload:    opts.MaxUploadBytes,
		limiter:      newClientLimiter(opts.ClientRateLimit),
		logger:       logger.Named("http"),
		router:       chi.NewRouter(),
	}

	s.router.Use(requestID)
	s.router.Use(realIP)
	s.router.Use(requestLog(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	s.router.Get("/", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Group(func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/export/{format}", s.handleExport)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run prunes idle rate-limit buckets until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.limiter.run(ctx, 10*time.Minute)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type healthResponse struct {
	Status    string                  `json:"status"`
	Formulary []formulary.CorpusStats `json:"formulary"`
	Cache     bool                    `json:"cache"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.formulary.Stats()
	if stats == nil {
		stats = []formulary.CorpusStats{}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Formulary: stats, Cache: s.cacheEnabled})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", s.maxUpload))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", s.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".docx") {
		writeError(w, http.StatusBadRequest, "only .docx files are accepted")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	s.logger.Info("analysis started",
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(data)),
	)
	res, err := s.analyzer.Run(r.Context(), data)
	switch {
	case errors.Is(err, docx.ErrMalformed), errors.Is(err, pipeline.ErrEmptyDocument):
		writeJSON(w, http.StatusBadRequest, res)
		return
	case err != nil:
		s.logger.Error("analysis failed", zap.String("request_id", RequestIDFrom(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxExportBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "export body too large")
		return
	}
	doc, err := decodeExportBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.exporter.Bytes(r.Context(), doc, format)
	if err != nil {
		s.logger.Error("export failed", zap.String("format", string(format)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename(doc, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// decodeExportBody accepts either a bare array of drug analyses or a whole
// document analysis.
func decodeExportBody(body []byte) (model.DocumentAnalysis, error) {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var results []model.DrugAnalysis
		if err := json.Unmarshal(body, &results); err != nil {
			return model.DocumentAnalysis{}, fmt.Errorf("invalid analysis list: %w", err)
		}
		return model.DocumentAnalysis{Results: results}, nil
	case strings.HasPrefix(trimmed, "{"):
		var doc model.DocumentAnalysis
		if err := json.Unmarshal(body, &doc); err != nil {
			return model.DocumentAnalysis{}, fmt.Errorf("invalid analysis: %w", err)
		}
		if doc.Results == nil {
			doc.Results = []model.DrugAnalysis{}
		}
		return doc, nil
	}
	return model.DocumentAnalysis{}, errors.New("body must be a JSON array or object")
}
