package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// Graph API error codes that require a new access token
var graphAuthErrorCodes = map[int]bool{
	102: true, // session expired
	190: true, // invalid or expired access token
}

// Instagram publishes single image posts through the Instagram Graph API:
// create a media container, wait for it to be FINISHED, then publish it.
type Instagram struct {
	accountID    string
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	maxPolls     int

	mu          sync.RWMutex
	accessToken string
}

type InstagramOption func(*Instagram)

func WithGraphBaseURL(base string) InstagramOption {
	return func(x *Instagram) {
		x.baseURL = strings.TrimRight(base, "/")
	}
}

func WithHTTPClient(client *http.Client) InstagramOption {
	return func(x *Instagram) {
		x.client = client
	}
}

// WithContainerPolling sets how often and how many times the container status is checked
func WithContainerPolling(interval time.Duration, maxPolls int) InstagramOption {
	return func(x *Instagram) {
		x.pollInterval = interval
		x.maxPolls = maxPolls
	}
}

func NewInstagram(accountID, accessToken string, opts ...InstagramOption) *Instagram {
	x := &Instagram{
		accountID:    accountID,
		accessToken:  accessToken,
		baseURL:      defaultGraphBaseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
		maxPolls:     10,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

type graphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

// Publish posts image with caption. It returns false with an error describing
// the failure, or model.ErrAuthChallenge when the token must be replaced.
func (x *Instagram) Publish(ctx context.Context, image model.ImageRef, caption string) (bool, error) {
	if !image.IsURL() {
		return false, goerr.New("instagram requires a public image URL", goerr.V("image", image))
	}

	containerID, err := x.call(ctx, http.MethodPost, x.accountID+"/media", url.Values{
		"image_url": {image.String()},
		"caption":   {caption},
	})
	if err != nil {
		return false, goerr.Wrap(err, "failed to create media container")
	}

	if err := x.waitContainer(ctx, containerID); err != nil {
		return false, err
	}

	mediaID, err := x.call(ctx, http.MethodPost, x.accountID+"/media_publish", url.Values{
		"creation_id": {containerID},
	})
	if err != nil {
		return false, goerr.Wrap(err, "failed to publish media container", goerr.V("container_id", containerID))
	}

	logging.From(ctx).Info("published instagram media", "media_id", mediaID, "container_id", containerID)
	return true, nil
}

// Resolve replaces the access token after an auth challenge.
func (x *Instagram) Resolve(_ context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return goerr.Wrap(model.ErrValidation, "empty access token")
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.accessToken = code
	return nil
}

func (x *Instagram) token() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.accessToken
}

func (x *Instagram) waitContainer(ctx context.Context, containerID string) error {
	for i := 0; i < x.maxPolls; i++ {
		var resp struct {
			StatusCode string `json:"status_code"`
		}
		if err := x.get(ctx, containerID, url.Values{"fields": {"status_code"}}, &resp); err != nil {
			return goerr.Wrap(err, "failed to check container status", goerr.V("container_id", containerID))
		}

		switch resp.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			return goerr.New("media container was not accepted", goerr.V("container_id", containerID), goerr.V("status", resp.StatusCode))
		}

		select {
		case <-ctx.Done():
			return goerr.Wrap(ctx.Err(), "interrupted while waiting for container")
		case <-time.After(x.pollInterval):
		}
	}

	return goerr.New("media container not ready", goerr.V("container_id", containerID), goerr.V("polls", x.maxPolls))
}

func (x *Instagram) call(ctx context.Context, method, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+"/"+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", goerr.Wrap(err, "failed to build graph request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		ID string `json:"id"`
	}
	if err := x.do(req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", goerr.New("graph response has no id", goerr.V("path", path))
	}
	return resp.ID, nil
}

func (x *Instagram) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.baseURL+"/"+path+"?"+query.Encode(), nil)
	if err != nil {
		return goerr.Wrap(err, "failed to build graph request")
	}
	return x.do(req, out)
}

// do sends the request with the access token in the Authorization header. The
// token never appears in request URLs or bodies.
func (x *Instagram) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+x.token())

	resp, err := x.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
		}
		return goerr.Wrap(err, "graph request failed", goerr.V("path", req.URL.Path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerr.Wrap(err, "failed to read graph response", goerr.V("path", req.URL.Path))
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error *graphError `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
			vals := []goerr.Option{
				goerr.V("path", req.URL.Path),
				goerr.V("status", resp.StatusCode),
				goerr.V("code", envelope.Error.Code),
				goerr.V("subcode", envelope.Error.Subcode),
				goerr.V("fbtrace_id", envelope.Error.FBTraceID),
			}
			if graphAuthErrorCodes[envelope.Error.Code] {
				return goerr.Wrap(model.ErrAuthChallenge, envelope.Error.Message, vals...)
			}
			return goerr.New(envelope.Error.Message, vals...)
		}
		return goerr.New("graph request returned error status", goerr.V("path", req.URL.Path), goerr.V("status", resp.StatusCode), goerr.V("body", string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return goerr.Wrap(err, "failed to decode graph response", goerr.V("path", req.URL.Path))
	}
	return nil
}

// DryRunPublisher logs posts instead of publishing them.
type DryRunPublisher struct{}

func (DryRunPublisher) Publish(ctx context.Context, image model.ImageRef, caption string) (bool, error) {
	logging.From(ctx).Info("dry run: would publish post", "image", image, "caption", logging.Truncate(caption, 60))
	return true, nil
}

func (DryRunPublisher) Resolve(context.Context, string) error {
	return nil
}
