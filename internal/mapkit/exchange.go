package mapkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultAPIBaseURL  = "https://maps-api.apple.com"
	maxUpstreamBody    = 1 << 20
	maxErrorBodyInText = 512
)

// UpstreamError is a failed call to the mapping provider: either a non-2xx
// answer, or Status 0 with Err set when the provider could not be reached.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("mapping provider unreachable: %v", e.Err)
	}
	body := e.Body
	if len(body) > maxErrorBodyInText {
		body = body[:maxErrorBodyInText]
	}
	return fmt.Sprintf("mapping provider returned status %d: %s", e.Status, body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// TransportError classifies a failed round trip. Cancellation by the caller
// stays a plain context error; everything else means the provider is
// unreachable.
func TransportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return &UpstreamError{Err: fmt.Errorf("%s: %w", op, err)}
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// TokenExchanger trades a server assertion for an access credential at the
// provider's token endpoint.
type TokenExchanger struct {
	tokenURL   string
	httpClient *http.Client
}

func NewTokenExchanger(baseURL string, httpClient *http.Client) *TokenExchanger {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &TokenExchanger{
		tokenURL:   baseURL + "/v1/token",
		httpClient: httpClient,
	}
}

func (e *TokenExchanger) Exchange(ctx context.Context, assertion string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", TransportError(ctx, "token request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("token response missing accessToken")
	}

	return parsed.AccessToken, nil
}
