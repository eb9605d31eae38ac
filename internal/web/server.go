// Package web serves the review submission form and the read-only API.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"stealthcompany.com/snsreview/internal/apperr"
	"stealthcompany.com/snsreview/internal/formlink"
	"stealthcompany.com/snsreview/internal/metrics"
	"stealthcompany.com/snsreview/internal/review"
)

const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
	FormPath    = "/review_form"
	SubmitPath  = "/submit_review"
	ReviewsPath = "/api/reviews"

	maxUploadBytes = 32 << 20
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Reviews is the part of the review service the web layer uses
type Reviews interface {
	Validate(sub review.Submission) error
	Submit(ctx context.Context, sub review.Submission) (review.View, error)
	Live() []review.View
}

// TokenVerifier checks form tokens
type TokenVerifier interface {
	Verify(token string) (*formlink.Claims, error)
}

// Uploader stores attachments
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, size int64, r io.Reader) (review.Attachment, error)
}

// Server holds the handlers' dependencies
type Server struct {
	reviews  Reviews
	tokens   TokenVerifier
	uploader Uploader
	accounts map[string][]string
}

// NewServer creates a server. A nil uploader drops attachments.
func NewServer(reviews Reviews, tokens TokenVerifier, uploader Uploader, accounts map[string][]string) *Server {
	return &Server{reviews: reviews, tokens: tokens, uploader: uploader, accounts: accounts}
}

// SetupRoutes configures and returns the HTTP router
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(metrics.MetricsMiddleware)

	r.HandleFunc(HealthPath, s.healthHandler).Methods("GET")
	r.HandleFunc(FormPath, s.formHandler).Methods("GET")
	r.HandleFunc(SubmitPath, s.submitHandler).Methods("POST")
	r.HandleFunc(ReviewsPath, s.reviewsHandler).Methods("GET")

	r.Handle(MetricsPath, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods("GET")

	return r
}

type platformOption struct {
	Name     string
	Accounts []string
}

type formPage struct {
	Author    string
	Token     string
	Platforms []platformOption
	Platform  string
	Account   string
	Text      string
	Error     string
}

type submittedPage struct {
	ID             string
	Platform       string
	Account        string
	UploadFailures []string
}

func (s *Server) platforms() []platformOption {
	out := make([]platformOption, 0, len(s.accounts))
	for name, accounts := range s.accounts {
		out = append(out, platformOption{Name: name, Accounts: accounts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"reviews": len(s.reviews.Live()),
	})
}

// reviewsHandler lists the live reviews of the room a form token was
// issued for. The token comes from a Bearer header or the token parameter.
func (s *Server) reviewsHandler(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected reviews listing")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "a valid review link token is required"})
		return
	}

	views := []review.View{}
	for _, v := range s.reviews.Live() {
		if v.Room == claims.Room {
			views = append(views, v)
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) formHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := s.tokens.Verify(token)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected form link")
		http.Error(w, "This review link is invalid or has expired. Ask the bot for a new one with !review.", http.StatusUnauthorized)
		return
	}

	s.renderForm(w, http.StatusOK, formPage{
		Author:    claims.Author(),
		Token:     token,
		Platforms: s.platforms(),
	})
}

func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		log.Warn().Err(err).Msg("Failed to parse review form")
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Error().Err(err).Msg("Failed to remove multipart temp files")
		}
	}()

	token := r.FormValue("token")
	claims, err := s.tokens.Verify(token)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected review submission")
		http.Error(w, "This review link is invalid or has expired. Ask the bot for a new one with !review.", http.StatusUnauthorized)
		return
	}

	page := formPage{
		Author:    claims.Author(),
		Token:     token,
		Platforms: s.platforms(),
		Platform:  strings.TrimSpace(r.FormValue("platform")),
		Account:   strings.TrimSpace(r.FormValue("account")),
		Text:      r.FormValue("post_text"),
	}

	sub := review.Submission{
		Author:   claims.Author(),
		Platform: page.Platform,
		Account:  page.Account,
		Text:     page.Text,
		Room:     claims.Room,
	}
	// images reach the media repository only for a valid submission
	if err = s.reviews.Validate(sub); err == nil {
		var failures []string
		sub.Attachments, failures = s.uploadImages(r)
		var view review.View
		if view, err = s.reviews.Submit(r.Context(), sub); err == nil {
			s.renderSubmitted(w, view, failures)
			return
		}
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		page.Error = apperr.UserMessage(err)
		s.renderForm(w, http.StatusUnprocessableEntity, page)
	default:
		log.Error().Err(err).Str("author", claims.Author()).Msg("Failed to create review")
		page.Error = "The review could not be posted to the chat. Try again later."
		s.renderForm(w, http.StatusBadGateway, page)
	}
}

func (s *Server) renderSubmitted(w http.ResponseWriter, view review.View, failures []string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := templates.ExecuteTemplate(w, "submitted.html", submittedPage{
		ID:             view.ID,
		Platform:       view.Platform,
		Account:        view.Account,
		UploadFailures: failures,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to render confirmation page")
	}
}

// uploadImages uploads every image. A failed upload is reported but does
// not block the review.
func (s *Server) uploadImages(r *http.Request) ([]review.Attachment, []string) {
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		return nil, nil
	}

	var attachments []review.Attachment
	var failures []string
	for _, fh := range files {
		if fh.Filename == "" {
			continue
		}
		if s.uploader == nil {
			failures = append(failures, fh.Filename)
			continue
		}

		f, err := fh.Open()
		if err != nil {
			log.Error().Err(err).Str("file", fh.Filename).Msg("Failed to open uploaded image")
			failures = append(failures, fh.Filename)
			continue
		}

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		a, err := s.uploader.Upload(r.Context(), fh.Filename, contentType, fh.Size, f)
		_ = f.Close()
		if err != nil {
			log.Error().Err(err).Str("file", fh.Filename).Msg("Failed to upload image")
			failures = append(failures, fh.Filename)
			continue
		}
		attachments = append(attachments, a)
	}
	return attachments, failures
}

func (s *Server) renderForm(w http.ResponseWriter, status int, page formPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, "form.html", page); err != nil {
		log.Error().Err(err).Msg("Failed to render review form")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
