// Package tmdb talks to the upstream movie catalog API.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/metrics"
)

var (
	// ErrNotFound is returned when upstream has no movie with the requested id.
	ErrNotFound = errors.New("tmdb: not found")
	// ErrUpstream covers every other failure: transport errors, non-2xx
	// statuses, malformed payloads and open-circuit rejections.
	ErrUpstream = errors.New("tmdb: upstream failure")
)

// Movie is an upstream movie normalized from either list or detail payloads.
type Movie struct {
	ID          int64
	Title       string
	Overview    string
	PosterPath  string
	ReleaseDate *time.Time
	Popularity  float64
	VoteAverage float64
	GenreIDs    []int
}

// Client defines the contract for querying the upstream catalog.
type Client interface {
	Trending(ctx context.Context) ([]Movie, error)
	MovieDetails(ctx context.Context, id int64) (Movie, error)
	Recommendations(ctx context.Context, id int64) ([]Movie, error)
	Search(ctx context.Context, query string) ([]Movie, error)
	Genres(ctx context.Context) ([]domain.Genre, error)
}

// Options tunes the HTTP client.
type Options struct {
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewHTTPClient constructs a new HTTP-backed catalog client.
func NewHTTPClient(baseURL, apiKey string, opts Options, logger zerolog.Logger) (*HTTPClient, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse tmdb url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse tmdb url: %q is not absolute", baseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPClient{
		baseURL: parsed,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "tmdb").Logger(),
	}, nil
}

// Trending returns this week's trending movies.
func (c *HTTPClient) Trending(ctx context.Context) ([]Movie, error) {
	var payload listResponse
	if err := c.get(ctx, "trending", "/trending/movie/week", nil, &payload); err != nil {
		return nil, err
	}
	return payload.movies(), nil
}

// MovieDetails returns a single movie.
func (c *HTTPClient) MovieDetails(ctx context.Context, id int64) (Movie, error) {
	var payload movieResponse
	if err := c.get(ctx, "details", "/movie/"+strconv.FormatInt(id, 10), nil, &payload); err != nil {
		return Movie{}, err
	}
	return convertMovie(payload), nil
}

// Recommendations returns upstream's "more like this" list for a movie.
func (c *HTTPClient) Recommendations(ctx context.Context, id int64) ([]Movie, error) {
	var payload listResponse
	if err := c.get(ctx, "recommendations", "/movie/"+strconv.FormatInt(id, 10)+"/recommendations", nil, &payload); err != nil {
		return nil, err
	}
	return payload.movies(), nil
}

// Search performs an upstream title search.
func (c *HTTPClient) Search(ctx context.Context, query string) ([]Movie, error) {
	var payload listResponse
	if err := c.get(ctx, "search", "/search/movie", url.Values{"query": {query}}, &payload); err != nil {
		return nil, err
	}
	return payload.movies(), nil
}

// Genres returns the upstream genre enumeration.
func (c *HTTPClient) Genres(ctx context.Context) ([]domain.Genre, error) {
	var payload genresResponse
	if err := c.get(ctx, "genres", "/genre/movie/list", nil, &payload); err != nil {
		return nil, err
	}
	genres := make([]domain.Genre, 0, len(payload.Genres))
	for _, g := range payload.Genres {
		if g.ID <= 0 || strings.TrimSpace(g.Name) == "" {
			continue
		}
		genres = append(genres, domain.Genre{ID: g.ID, Name: strings.TrimSpace(g.Name)})
	}
	return genres, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	start := time.Now()
	err := c.doGet(ctx, path, params, out)
	metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	metrics.UpstreamRequests.WithLabelValues(endpoint, resultLabel(err)).Inc()
	return err
}

func (c *HTTPClient) doGet(ctx context.Context, path string, params url.Values, out any) error {
	rel := &url.URL{Path: c.baseURL.Path + path}
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", c.apiKey)
	rel.RawQuery = q.Encode()
	endpoint := c.baseURL.ResolveReference(rel)

	resp, err := c.send(ctx, endpoint.String())
	if err != nil && isTransient(ctx, err) {
		c.logger.Debug().Err(err).Str("path", path).Msg("retrying transient upstream error")
		resp, err = c.send(ctx, endpoint.String())
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %v", ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("unexpected upstream status")
		return fmt.Errorf("%w: %s returned %d", ErrUpstream, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, path, err)
	}
	return nil
}

func (c *HTTPClient) send(ctx context.Context, endpoint string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.client.Do(req)
}

// isTransient reports whether a transport error is worth one immediate retry.
// Non-2xx responses never reach here.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

type listResponse struct {
	Page    int             `json:"page"`
	Results []movieResponse `json:"results"`
}

func (l listResponse) movies() []Movie {
	movies := make([]Movie, 0, len(l.Results))
	for _, item := range l.Results {
		if item.ID <= 0 {
			continue
		}
		movies = append(movies, convertMovie(item))
	}
	return movies
}

type movieResponse struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Overview    string         `json:"overview"`
	PosterPath  *string        `json:"poster_path"`
	ReleaseDate string         `json:"release_date"`
	Popularity  float64        `json:"popularity"`
	VoteAverage float64        `json:"vote_average"`
	GenreIDs    []int          `json:"genre_ids"`
	Genres      []genrePayload `json:"genres"`
}

type genrePayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type genresResponse struct {
	Genres []genrePayload `json:"genres"`
}

func convertMovie(payload movieResponse) Movie {
	movie := Movie{
		ID:          payload.ID,
		Title:       strings.TrimSpace(payload.Title),
		Overview:    payload.Overview,
		Popularity:  payload.Popularity,
		VoteAverage: payload.VoteAverage,
	}
	if payload.PosterPath != nil {
		movie.PosterPath = *payload.PosterPath
	}
	if payload.ReleaseDate != "" {
		if parsed, err := time.Parse("2006-01-02", payload.ReleaseDate); err == nil {
			movie.ReleaseDate = &parsed
		}
	}

	// List endpoints carry genre_ids; the detail endpoint carries genres[].
	ids := payload.GenreIDs
	if len(ids) == 0 {
		for _, g := range payload.Genres {
			ids = append(ids, g.ID)
		}
	}
	seen := make(map[int]struct{}, len(ids))
	movie.GenreIDs = make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		movie.GenreIDs = append(movie.GenreIDs, id)
	}
	if movie.Popularity < 0 {
		movie.Popularity = 0
	}
	return movie
}
