package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"trades-finder/internal/mapkit"
)

const (
	defaultLimit    = 25
	defaultLanguage = "en-CA"
	maxResponseBody = 4 << 20
)

var ErrInvalidQuery = errors.New("invalid search query")

// CredentialSource supplies the provider access credential and forgets it
// when the provider stops accepting it.
type CredentialSource interface {
	TokenSource(ctx context.Context) oauth2.TokenSource
	Invalidate()
}

type Query struct {
	Text     string
	Near     string
	City     string
	Language string
	Limit    int
}

const durhamCenter = "43.95,-78.9"

var cityCenters = []struct {
	name   string
	center string
}{
	{"ajax", "43.85,-79.02"},
	{"pickering", "43.84,-79.09"},
	{"whitby", "43.88,-78.94"},
	{"oshawa", "43.9,-78.86"},
}

// cityCenter maps a Durham Region city name to a search centre. Unknown
// names fall back to the centre of the region.
func cityCenter(city string) string {
	city = strings.ToLower(city)
	for _, c := range cityCenters {
		if strings.Contains(city, c.name) {
			return c.center
		}
	}
	return durhamCenter
}

type Client struct {
	searchURL  string
	httpClient *http.Client
	creds      CredentialSource
}

func NewClient(baseURL string, creds CredentialSource, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = mapkit.DefaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		searchURL:  baseURL + "/v1/search",
		httpClient: httpClient,
		creds:      creds,
	}
}

// Search runs a point-of-interest search and returns the provider payload
// unchanged.
func (c *Client) Search(ctx context.Context, q Query) (json.RawMessage, error) {
	params, err := q.values()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	source := c.creds.TokenSource(ctx)
	if _, err := source.Token(); err != nil {
		return nil, fmt.Errorf("get access credential: %w", err)
	}

	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), source)
	resp, err := client.Do(req)
	if err != nil {
		return nil, mapkit.TransportError(ctx, "search request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.creds.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &mapkit.UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("search response is not valid json")
	}

	return json.RawMessage(body), nil
}

func (q Query) values() (url.Values, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" || len(text) > 200 {
		return nil, ErrInvalidQuery
	}

	params := url.Values{}
	params.Set("q", text)
	params.Set("resultTypeFilter", "Poi")

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}
	params.Set("limit", strconv.Itoa(limit))

	lang := strings.TrimSpace(q.Language)
	if lang == "" {
		lang = defaultLanguage
	}
	params.Set("lang", lang)

	if near := strings.TrimSpace(q.Near); near != "" {
		location, ok := parseCoordinate(near)
		if !ok {
			return nil, ErrInvalidQuery
		}
		params.Set("searchLocation", location)
	} else if city := strings.TrimSpace(q.City); city != "" {
		params.Set("searchLocation", cityCenter(city))
	}

	return params, nil
}

// parseCoordinate accepts "lat,lng" and returns it in canonical form.
func parseCoordinate(raw string) (string, bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return "", false
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return "", false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return "", false
	}

	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64), true
}
