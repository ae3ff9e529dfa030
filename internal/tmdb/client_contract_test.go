package tmdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// TestHTTPClientSmoke checks that the client can parse real records from a
// target service, either the upstream API or cmd/tmdb-mock.
func TestHTTPClientSmoke(t *testing.T) {
	baseURL := os.Getenv("TMDB_URL")
	if baseURL == "" {
		t.Skip("TMDB_URL not provided")
	}
	client, err := NewHTTPClient(baseURL, os.Getenv("TMDB_API_KEY"), Options{Timeout: 4 * time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("create http client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	trending, err := client.Trending(ctx)
	if err != nil {
		t.Fatalf("fetch trending: %v", err)
	}
	if len(trending) == 0 {
		t.Fatalf("trending returned no movies")
	}
	if _, err := client.MovieDetails(ctx, trending[0].ID); err != nil {
		t.Fatalf("fetch details for %d: %v", trending[0].ID, err)
	}
	genres, err := client.Genres(ctx)
	if err != nil || len(genres) == 0 {
		t.Fatalf("fetch genres: %v (%d)", err, len(genres))
	}
}
