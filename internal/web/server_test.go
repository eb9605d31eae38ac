package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"stealthcompany.com/snsreview/internal/apperr"
	"stealthcompany.com/snsreview/internal/formlink"
	"stealthcompany.com/snsreview/internal/review"
)

const formSecret = "0123456789abcdef0123"

type fakeReviews struct {
	mu      sync.Mutex
	subs    []review.Submission
	invalid error
	err     error
	live    []review.View
}

func (f *fakeReviews) Validate(sub review.Submission) error { return f.invalid }

func (f *fakeReviews) Submit(ctx context.Context, sub review.Submission) (review.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return review.View{}, f.err
	}
	f.subs = append(f.subs, sub)
	return review.View{ID: "req-1", Platform: sub.Platform, Account: sub.Account}, nil
}

func (f *fakeReviews) Live() []review.View { return f.live }

type fakeUploader struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (f *fakeUploader) Upload(ctx context.Context, name, contentType string, size int64, r io.Reader) (review.Attachment, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail[name] {
		return review.Attachment{}, errors.New("media repo unavailable")
	}
	return review.Attachment{Name: name, URI: "mxc://example.org/" + name}, nil
}

func newTestServer(t *testing.T, reviews *fakeReviews) (http.Handler, *formlink.Signer) {
	t.Helper()
	handler, signer, _ := newTestServerWithUploader(t, reviews)
	return handler, signer
}

func newTestServerWithUploader(t *testing.T, reviews *fakeReviews) (http.Handler, *formlink.Signer, *fakeUploader) {
	t.Helper()
	signer, err := formlink.NewSigner(formSecret, time.Hour, nil)
	require.NoError(t, err)
	uploader := &fakeUploader{fail: map[string]bool{"broken.png": true}}
	srv := NewServer(reviews, signer, uploader,
		map[string][]string{"x": {"main", "jobs"}, "instagram": {"brand"}})
	return srv.SetupRoutes(), signer, uploader
}

func multipartBody(t *testing.T, fields map[string]string, files ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, name := range files {
		fw, err := mw.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("image-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestFormRequiresValidToken(t *testing.T) {
	handler, signer := newTestServer(t, &fakeReviews{})
	token, err := signer.Issue("@author:example.org", "!room:example.org")
	require.NoError(t, err)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "?token=abc", http.StatusUnauthorized},
		{"valid token", "?token=" + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, FormPath+tt.query, nil))
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestFormListsPlatformsAndAccounts(t *testing.T) {
	handler, signer := newTestServer(t, &fakeReviews{})
	token, err := signer.Issue("@author:example.org", "!room:example.org")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, FormPath+"?token="+token, nil))

	body := rec.Body.String()
	require.Contains(t, body, "@author:example.org")
	require.Contains(t, body, `<option value="instagram">instagram</option>`)
	require.Contains(t, body, "x / jobs")
	require.Less(t, strings.Index(body, `value="instagram"`), strings.Index(body, `value="x"`))
}

func TestSubmitCreatesReview(t *testing.T) {
	reviews := &fakeReviews{}
	handler, signer := newTestServer(t, reviews)
	token, err := signer.Issue("@author:example.org", "!room:example.org")
	require.NoError(t, err)

	body, contentType := multipartBody(t, map[string]string{
		"token":     token,
		"platform":  "x",
		"account":   "main",
		"post_text": "We are hiring!",
	}, "cat.png", "broken.png")

	req := httptest.NewRequest(http.MethodPost, SubmitPath, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "req-1")
	require.Contains(t, rec.Body.String(), "Image broken.png could not be uploaded")

	require.Len(t, reviews.subs, 1)
	sub := reviews.subs[0]
	require.Equal(t, "@author:example.org", sub.Author)
	require.Equal(t, "!room:example.org", sub.Room)
	require.Equal(t, "We are hiring!", sub.Text)
	require.Equal(t, []review.Attachment{{Name: "cat.png", URI: "mxc://example.org/cat.png"}}, sub.Attachments)
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name   string
		token  bool
		err    error
		status int
	}{
		{"no token", false, nil, http.StatusUnauthorized},
		{"validation error re-renders form", true, apperr.Validation("account", "other is not an account of x"), http.StatusUnprocessableEntity},
		{"chat failure", true, errors.New("homeserver down"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, signer := newTestServer(t, &fakeReviews{err: tt.err})
			fields := map[string]string{"platform": "x", "account": "other", "post_text": "hi"}
			if tt.token {
				token, err := signer.Issue("@author:example.org", "!room:example.org")
				require.NoError(t, err)
				fields["token"] = token
			}
			body, contentType := multipartBody(t, fields)

			req := httptest.NewRequest(http.MethodPost, SubmitPath, body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnprocessableEntity {
				require.Contains(t, rec.Body.String(), "account: other is not an account of x")
				require.Contains(t, rec.Body.String(), ">hi</textarea>")
			}
		})
	}
}

func TestInvalidSubmissionUploadsNothing(t *testing.T) {
	reviews := &fakeReviews{invalid: apperr.Validation("platform", "tiktok is not configured")}
	handler, signer, uploader := newTestServerWithUploader(t, reviews)
	token, err := signer.Issue("@author:example.org", "!room:example.org")
	require.NoError(t, err)

	body, contentType := multipartBody(t, map[string]string{
		"token":     token,
		"platform":  "tiktok",
		"account":   "main",
		"post_text": "We are hiring!",
	}, "cat.png", "dog.png")

	req := httptest.NewRequest(http.MethodPost, SubmitPath, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "platform: tiktok is not configured")
	require.Zero(t, uploader.calls)
	require.Empty(t, reviews.subs)
}

func TestReviewsListingIsScopedToTokenRoom(t *testing.T) {
	reviews := &fakeReviews{live: []review.View{
		{ID: "req-1", Room: "!room:example.org", Status: review.StatusPending},
		{ID: "req-2", Room: "!other:example.org", Status: review.StatusApproved},
	}}
	handler, signer := newTestServer(t, reviews)
	token, err := signer.Issue("@author:example.org", "!room:example.org")
	require.NoError(t, err)

	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		status   int
		expected []string
	}{
		{"no token", func(r *http.Request) {}, http.StatusUnauthorized, nil},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, http.StatusUnauthorized, nil},
		{"bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, []string{"req-1"}},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=" + token }, http.StatusOK, []string{"req-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, ReviewsPath, nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}
			var views []review.View
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
			ids := make([]string, 0, len(views))
			for _, v := range views {
				ids = append(ids, v.ID)
			}
			require.Equal(t, tt.expected, ids)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reviews := &fakeReviews{live: []review.View{{ID: "req-1", Status: review.StatusPending}}}
	handler, _ := newTestServer(t, reviews)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","reviews":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
