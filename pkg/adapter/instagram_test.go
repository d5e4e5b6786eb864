package adapter_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/postsmith/pkg/adapter"
	"github.com/m-mizutani/postsmith/pkg/model"
)

type graphServer struct {
	mu         sync.Mutex
	validToken string
	statuses   []string
	requests   []string
	captions   []string
}

func (s *graphServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = r.ParseForm()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	if r.Header.Get("Authorization") != "Bearer "+s.validToken || r.Form.Has("access_token") {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Error validating access token","type":"OAuthException","code":190,"error_subcode":463}}`))
		return
	}

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media"):
		s.captions = append(s.captions, r.Form.Get("caption"))
		_, _ = w.Write([]byte(`{"id":"container-1"}`))
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/container-1"):
		status := "FINISHED"
		if len(s.statuses) > 0 {
			status, s.statuses = s.statuses[0], s.statuses[1:]
		}
		_, _ = w.Write([]byte(`{"status_code":"` + status + `","id":"container-1"}`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media_publish"):
		_, _ = w.Write([]byte(`{"id":"media-1"}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown path","type":"GraphMethodException","code":100}}`))
	}
}

func newTestInstagram(t *testing.T, srv *graphServer, token string) *adapter.Instagram {
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return adapter.NewInstagram("1784", token,
		adapter.WithGraphBaseURL(ts.URL),
		adapter.WithContainerPolling(time.Millisecond, 3),
	)
}

func TestInstagramPublish(t *testing.T) {
	srv := &graphServer{validToken: "token", statuses: []string{"IN_PROGRESS", "FINISHED"}}
	ig := newTestInstagram(t, srv, "token")

	ok, err := ig.Publish(context.Background(), "https://example.com/a.png", "Sunrise run #fitness")
	gt.NoError(t, err)
	gt.True(t, ok)
	gt.Equal(t, srv.requests, []string{
		"POST /1784/media",
		"GET /container-1",
		"GET /container-1",
		"POST /1784/media_publish",
	})
	gt.Equal(t, srv.captions, []string{"Sunrise run #fitness"})
}

func TestInstagramContainerError(t *testing.T) {
	srv := &graphServer{validToken: "token", statuses: []string{"ERROR"}}
	ig := newTestInstagram(t, srv, "token")

	ok, err := ig.Publish(context.Background(), "https://example.com/a.png", "caption")
	gt.Error(t, err)
	gt.False(t, ok)
	gt.False(t, errors.Is(err, model.ErrAuthChallenge))
}

func TestInstagramContainerNeverReady(t *testing.T) {
	srv := &graphServer{validToken: "token", statuses: []string{"IN_PROGRESS", "IN_PROGRESS", "IN_PROGRESS"}}
	ig := newTestInstagram(t, srv, "token")

	ok, err := ig.Publish(context.Background(), "https://example.com/a.png", "caption")
	gt.Error(t, err)
	gt.False(t, ok)
}

func TestInstagramAuthChallenge(t *testing.T) {
	srv := &graphServer{validToken: "fresh"}
	ig := newTestInstagram(t, srv, "expired")
	ctx := context.Background()

	ok, err := ig.Publish(ctx, "https://example.com/a.png", "caption")
	gt.False(t, ok)
	gt.True(t, errors.Is(err, model.ErrAuthChallenge))

	gt.Error(t, ig.Resolve(ctx, "  "))
	gt.NoError(t, ig.Resolve(ctx, "fresh"))

	ok, err = ig.Publish(ctx, "https://example.com/a.png", "caption")
	gt.NoError(t, err)
	gt.True(t, ok)
}

func TestInstagramRequiresURL(t *testing.T) {
	srv := &graphServer{validToken: "token"}
	ig := newTestInstagram(t, srv, "token")

	ok, err := ig.Publish(context.Background(), "/tmp/local.png", "caption")
	gt.Error(t, err)
	gt.False(t, ok)
	gt.A(t, srv.requests).Length(0)
}

func TestDryRunPublisher(t *testing.T) {
	ok, err := adapter.DryRunPublisher{}.Publish(context.Background(), "https://placehold.co/600x400", "caption")
	gt.NoError(t, err)
	gt.True(t, ok)
}

type failingGetTransport struct{}

func (failingGetTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Method == http.MethodGet {
		return nil, errors.New("connection reset by peer")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"id":"c1"}`)),
		Request:    r,
	}, nil
}

func TestInstagramTransportErrorHidesToken(t *testing.T) {
	ig := adapter.NewInstagram("1784", "SECRET-TOKEN",
		adapter.WithGraphBaseURL("https://graph.example.com/v19.0"),
		adapter.WithHTTPClient(&http.Client{Transport: failingGetTransport{}}),
		adapter.WithContainerPolling(time.Millisecond, 1),
	)

	ok, err := ig.Publish(context.Background(), "https://placehold.co/600x400", "caption")
	gt.False(t, ok)
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("connection reset by peer")
	gt.S(t, err.Error()).NotContains("SECRET-TOKEN")
	gt.S(t, fmt.Sprintf("%+v", err)).NotContains("SECRET-TOKEN")
}
