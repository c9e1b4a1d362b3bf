package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/honeypulse/honeypulse/internal/models"
	"github.com/honeypulse/honeypulse/internal/utils"
)

const maxResponseBytes = 1 << 20

// CredentialSource resolves a bearer token for a collaborator route. ok is
// false when the route needs no credential. InvalidatePath is called when the
// collaborator answers 401 so the next call fetches a fresh token.
type CredentialSource interface {
	ForPath(ctx context.Context, path string) (token string, ok bool, err error)
	InvalidatePath(ctx context.Context, path, token string)
}

// Endpoint describes one collaborator call.
type Endpoint struct {
	BaseURL string
	Path    string
	// Route is matched against the broker's routes to pick the target service.
	Route   string
	Timeout time.Duration
}

// URL joins BaseURL and Path.
func (e Endpoint) URL() string {
	base := strings.TrimRight(e.BaseURL, "/")
	if e.Path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(e.Path, "/")
}

// CollaboratorClient calls the classification and persistence services.
type CollaboratorClient struct {
	classify     Endpoint
	persist      Endpoint
	credentials  CredentialSource
	classifyHTTP *http.Client
	persistHTTP  *http.Client
}

// NewCollaboratorClient builds a client for both stages. credentials may be nil,
// in which case requests are sent without an Authorization header.
func NewCollaboratorClient(classify, persist Endpoint, credentials CredentialSource) *CollaboratorClient {
	return &CollaboratorClient{
		classify:     classify,
		persist:      persist,
		credentials:  credentials,
		classifyHTTP: newHTTPClient(classify.Timeout),
		persistHTTP:  newHTTPClient(persist.Timeout),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Classify sends the enrichment payload to the classifier and decodes its verdict.
func (c *CollaboratorClient) Classify(ctx context.Context, payload models.EnrichmentPayload) (models.ClassifiedEvent, error) {
	if c == nil {
		return models.ClassifiedEvent{}, fmt.Errorf("collaborator client not initialised")
	}
	body, err := c.postJSON(ctx, c.classifyHTTP, c.classify, payload)
	if err != nil {
		return models.ClassifiedEvent{}, utils.NewAppError("classify", "classifier request failed", err)
	}
	classified, err := models.DecodeClassifiedEvent(payload.CurrentLog.ID, body)
	if err != nil {
		return models.ClassifiedEvent{}, utils.NewAppError("classify", "invalid classifier response", err)
	}
	return classified, nil
}

// Persist forwards the classified event to the persistence service.
func (c *CollaboratorClient) Persist(ctx context.Context, event models.ClassifiedEvent) error {
	if c == nil {
		return fmt.Errorf("collaborator client not initialised")
	}
	if _, err := c.postJSON(ctx, c.persistHTTP, c.persist, event); err != nil {
		return utils.NewAppError("persist", "persistence request failed", err)
	}
	return nil
}

func (c *CollaboratorClient) postJSON(ctx context.Context, client *http.Client, endpoint Endpoint, payload any) ([]byte, error) {
	if endpoint.BaseURL == "" {
		return nil, fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var bearer string
	if c.credentials != nil {
		token, ok, err := c.credentials.ForPath(ctx, endpoint.Route)
		if err != nil {
			return nil, fmt.Errorf("acquire credential: %w", err)
		}
		if ok {
			bearer = token
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized && bearer != "" {
		c.credentials.InvalidatePath(ctx, endpoint.Route, bearer)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned %s: %s", endpoint.URL(), resp.Status, trimBody(data))
	}
	return data, nil
}

func trimBody(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
