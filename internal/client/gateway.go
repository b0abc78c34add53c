// Package client is the editor's HTTP gateway to the pipeline API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/observability"
)

const maxErrorBody = 4 << 10

// APIError is a non-2xx answer from the server. It unwraps to the matching
// model sentinel so callers can use errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pipeline API returned %d", e.Status)
	}
	return fmt.Sprintf("pipeline API returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusConflict:
		return model.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return model.ErrValidation
	default:
		return model.ErrTransport
	}
}

// Gateway calls the REST surface under baseURL, e.g.
// http://localhost:5000/api/pipeline.
type Gateway struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.http = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = observability.OrDiscard(l) }
}

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.http.Timeout = d }
}

func NewGateway(baseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  observability.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return g.baseURL + "/" + strings.Join(escaped, "/")
}

// do sends the request and decodes a JSON answer into out when out is
// non-nil. Every failure comes back wrapping a model sentinel.
func (g *Gateway) do(req *http.Request, out any) (*http.Response, []byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, model.ErrTransport)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %v: %w", req.URL.Path, err, model.ErrTransport)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, body, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp, body, fmt.Errorf("decode %s response: %v: %w", req.URL.Path, err, model.ErrTransport)
		}
	}
	return resp, body, nil
}

func errorMessage(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}

func (g *Gateway) newJSONRequest(ctx context.Context, method, target string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			if errors.Is(err, model.ErrValidation) {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			return nil, fmt.Errorf("encode request: %v: %w", err, model.ErrValidation)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %v: %w", err, model.ErrTransport)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// List returns the project summaries. Any failure is logged and yields an
// empty list.
func (g *Gateway) List(ctx context.Context) []model.ProjectSummary {
	req, err := g.newJSONRequest(ctx, http.MethodGet, g.url("projects"), nil)
	if err != nil {
		g.logger.Error("failed to list projects", "error", err)
		return []model.ProjectSummary{}
	}
	var out []model.ProjectSummary
	if _, _, err := g.do(req, &out); err != nil {
		g.logger.Error("failed to list projects", "error", err)
		return []model.ProjectSummary{}
	}
	if out == nil {
		out = []model.ProjectSummary{}
	}
	return out
}

func (g *Gateway) Get(ctx context.Context, id string) (*model.Project, error) {
	req, err := g.newJSONRequest(ctx, http.MethodGet, g.url("projects", id), nil)
	if err != nil {
		return nil, err
	}
	var p model.Project
	if _, _, err := g.do(req, &p); err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

// Save creates the project when it has no id and replaces it otherwise.
// The server's copy is returned.
func (g *Gateway) Save(ctx context.Context, p *model.Project) (*model.Project, error) {
	method, target := http.MethodPut, g.url("projects", p.ID)
	if model.IsMissingID(p.ID) {
		method, target = http.MethodPost, g.url("projects")
	}
	req, err := g.newJSONRequest(ctx, method, target, p)
	if err != nil {
		return nil, err
	}
	var saved model.Project
	if _, _, err := g.do(req, &saved); err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}
	return &saved, nil
}

func (g *Gateway) Delete(ctx context.Context, id string) error {
	req, err := g.newJSONRequest(ctx, http.MethodDelete, g.url("projects", id), nil)
	if err != nil {
		return err
	}
	if _, _, err := g.do(req, nil); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

func (g *Gateway) Validate(ctx context.Context, p *model.Project) (model.ValidationResult, error) {
	req, err := g.newJSONRequest(ctx, http.MethodPost, g.url("validate"), p)
	if err != nil {
		return model.ValidationResult{}, err
	}
	var res model.ValidationResult
	if _, _, err := g.do(req, &res); err != nil {
		return model.ValidationResult{}, fmt.Errorf("validate project: %w", err)
	}
	return res, nil
}

func (g *Gateway) Simulate(ctx context.Context, sim model.SimulationRequest) (model.SimulationResult, error) {
	if sim.Parameters == nil {
		sim.Parameters = map[string]any{}
	}
	req, err := g.newJSONRequest(ctx, http.MethodPost, g.url("simulate"), sim)
	if err != nil {
		return model.SimulationResult{}, err
	}
	var res model.SimulationResult
	if _, _, err := g.do(req, &res); err != nil {
		return model.SimulationResult{}, fmt.Errorf("simulate project %s: %w", sim.ProjectID, err)
	}
	return res, nil
}

// Export downloads the project document and the file name the server
// suggests for it.
func (g *Gateway) Export(ctx context.Context, id string) ([]byte, string, error) {
	req, err := g.newJSONRequest(ctx, http.MethodPost, g.url("projects", id, "export"), nil)
	if err != nil {
		return nil, "", err
	}
	resp, body, err := g.do(req, nil)
	if err != nil {
		return nil, "", fmt.Errorf("export project %s: %w", id, err)
	}
	name := fmt.Sprintf("project_%s_%s.json", id, time.Now().UTC().Format("2006-01-02"))
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return body, name, nil
}

// Import uploads an exported document as multipart field "file".
func (g *Gateway) Import(ctx context.Context, filename string, data []byte) (*model.Project, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url("projects", "import"), &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %v: %w", err, model.ErrTransport)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var p model.Project
	if _, _, err := g.do(req, &p); err != nil {
		return nil, fmt.Errorf("import project: %w", err)
	}
	return &p, nil
}

// IsTransport reports whether err is a connectivity or server failure
// rather than a rejection of the request.
func IsTransport(err error) bool {
	return errors.Is(err, model.ErrTransport)
}
