package broker

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
)

// IssuePath is the authority endpoint that mints credentials.
const IssuePath = "/micro/auth/getG2S"

// HTTPIssuer obtains credentials from the authority service.
type HTTPIssuer struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPIssuer targets the authority at baseURL.
func NewHTTPIssuer(baseURL string, timeout time.Duration) *HTTPIssuer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPIssuer{
		endpoint: strings.TrimRight(baseURL, "/") + IssuePath,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Issue implements Issuer.
func (i *HTTPIssuer) Issue(ctx context.Context, target string) (Token, error) {
	body, err := json.Marshal(map[string]string{"targetService": target})
	if err != nil {
		return Token{}, fmt.Errorf("marshal issue request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return Token{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Token{}, fmt.Errorf("authority returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Token{}, fmt.Errorf("decode authority response: %w", err)
	}
	if out.Token == "" {
		return Token{}, fmt.Errorf("authority returned an empty token")
	}
	return Token{Value: out.Token}, nil
}
