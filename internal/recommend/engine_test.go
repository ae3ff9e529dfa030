package recommend

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
)

const (
	action = 28
	drama  = 18
	comedy = 35
)

type memoryCatalog struct {
	movies    []domain.Movie
	lastLimit int
	lookupErr error
}

func (c *memoryCatalog) GetByUpstreamIDs(_ context.Context, ids []int64) ([]domain.Movie, error) {
	if c.lookupErr != nil {
		return nil, c.lookupErr
	}
	var out []domain.Movie
	for _, id := range ids {
		for _, m := range c.movies {
			if m.UpstreamID == id {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (c *memoryCatalog) ListByGenres(_ context.Context, genreIDs []int, excluding []string, limit int) ([]domain.Movie, error) {
	c.lastLimit = limit
	want := map[int]bool{}
	for _, id := range genreIDs {
		want[id] = true
	}
	skip := map[string]bool{}
	for _, id := range excluding {
		skip[id] = true
	}
	var out []domain.Movie
	for _, m := range c.movies {
		if skip[m.ID] {
			continue
		}
		for _, g := range m.GenreIDs {
			if want[g] {
				out = append(out, m)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Popularity != out[j].Popularity {
			return out[i].Popularity > out[j].Popularity
		}
		if out[i].VoteAverage != out[j].VoteAverage {
			return out[i].VoteAverage > out[j].VoteAverage
		}
		return out[i].UpstreamID < out[j].UpstreamID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type staticPrefs map[string]domain.Preferences

func (p staticPrefs) Get(_ context.Context, userID string) (domain.Preferences, error) {
	return p[userID], nil
}

type staticInteractions map[string][]domain.Interaction

func (s staticInteractions) ListByUser(_ context.Context, userID string) ([]domain.Interaction, error) {
	return s[userID], nil
}

type staticTrending struct {
	movies []domain.Movie
	err    error
}

func (s staticTrending) Trending(context.Context) ([]domain.Movie, bool, error) {
	return s.movies, false, s.err
}

func movie(id string, upstream int64, popularity float64, genres ...int) domain.Movie {
	return domain.Movie{ID: id, UpstreamID: upstream, Title: id, Popularity: popularity, GenreIDs: genres}
}

func ids(movies []domain.Movie) []string {
	out := make([]string, len(movies))
	for i, m := range movies {
		out[i] = m.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRecommend_GenrePreferenceRanking(t *testing.T) {
	catalog := &memoryCatalog{movies: []domain.Movie{
		movie("A", 1, 80, action),
		movie("B", 2, 60, action, drama),
		movie("C", 3, 90, drama),
	}}
	prefs := staticPrefs{"u1": {UserID: "u1", GenreIDs: []int{action}}}
	engine := New(catalog, prefs, staticInteractions{}, staticTrending{}, Options{}, zerolog.Nop())

	got, err := engine.Recommend(context.Background(), "u1", 2)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !equal(ids(got), []string{"A", "B"}) {
		t.Fatalf("got %v, want [A B]", ids(got))
	}
	if catalog.lastLimit != 6 {
		t.Fatalf("candidate pool limit = %d, want limit*oversample = 6", catalog.lastLimit)
	}
}

func TestRecommend_ExcludesWatchedAndLiked(t *testing.T) {
	catalog := &memoryCatalog{movies: []domain.Movie{
		movie("M", 1, 99, action),
		movie("L", 2, 95, action),
		movie("K", 3, 90, action),
		movie("N", 4, 50, action),
		movie("P", 5, 40, action),
	}}
	prefs := staticPrefs{"u1": {UserID: "u1", GenreIDs: []int{action}, MovieIDs: []string{"P"}}}
	history := staticInteractions{"u1": {
		{UserID: "u1", MovieID: "M", Kind: domain.InteractionWatched},
		{UserID: "u1", MovieID: "L", Kind: domain.InteractionLiked},
		{UserID: "u1", MovieID: "K", Kind: domain.InteractionBookmarked},
	}}
	trending := staticTrending{movies: []domain.Movie{movie("M", 1, 99, action), movie("T", 9, 10)}}

	engine := New(catalog, prefs, history, trending, Options{}, zerolog.Nop())
	got, err := engine.Recommend(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !equal(ids(got), []string{"K", "N", "T"}) {
		t.Fatalf("got %v, want [K N T]", ids(got))
	}

	strict := New(catalog, prefs, history, trending, Options{ExcludeBookmarked: true}, zerolog.Nop())
	got, err = strict.Recommend(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Recommend strict: %v", err)
	}
	if !equal(ids(got), []string{"N", "T"}) {
		t.Fatalf("got %v, want [N T]", ids(got))
	}
}

func TestRecommend_BackfillEqualsTrendingWhenNothingMatches(t *testing.T) {
	catalog := &memoryCatalog{movies: []domain.Movie{movie("D", 1, 70, drama)}}
	prefs := staticPrefs{"u1": {UserID: "u1", GenreIDs: []int{comedy}}}
	trending := staticTrending{movies: []domain.Movie{
		movie("T1", 11, 50), movie("T2", 12, 40), movie("T3", 13, 30),
	}}
	engine := New(catalog, prefs, staticInteractions{}, trending, Options{}, zerolog.Nop())

	got, err := engine.Recommend(context.Background(), "u1", 2)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !equal(ids(got), []string{"T1", "T2"}) {
		t.Fatalf("got %v, want trending truncated [T1 T2]", ids(got))
	}
}

func TestRecommend_NoPreferencesIsPureTrending(t *testing.T) {
	catalog := &memoryCatalog{movies: []domain.Movie{movie("A", 1, 80, action)}}
	trending := staticTrending{movies: []domain.Movie{movie("T1", 11, 50), movie("A", 1, 80, action)}}
	engine := New(catalog, staticPrefs{}, staticInteractions{}, trending, Options{}, zerolog.Nop())

	got, err := engine.Recommend(context.Background(), "nobody", 0)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !equal(ids(got), []string{"T1", "A"}) {
		t.Fatalf("got %v, want [T1 A]", ids(got))
	}
	if catalog.lastLimit != 0 {
		t.Fatalf("catalog should not be queried without favorite genres")
	}
}

func TestRecommend_BackfillSkipsSelectedAndExcluded(t *testing.T) {
	catalog := &memoryCatalog{movies: []domain.Movie{movie("A", 1, 80, action)}}
	prefs := staticPrefs{"u1": {UserID: "u1", GenreIDs: []int{action}}}
	history := staticInteractions{"u1": {{MovieID: "W", Kind: domain.InteractionWatched}}}
	trending := staticTrending{movies: []domain.Movie{
		movie("W", 5, 100), movie("A", 1, 80), movie("T", 6, 10), {UpstreamID: 7, Title: "unmirrored"},
	}}
	engine := New(catalog, prefs, history, trending, Options{}, zerolog.Nop())

	got, err := engine.Recommend(context.Background(), "u1", 3)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(got) != 3 || got[0].ID != "A" || got[1].ID != "T" || got[2].UpstreamID != 7 {
		t.Fatalf("got %+v", got)
	}
}

func TestRecommend_UnmirroredTrendingHonoursExclusions(t *testing.T) {
	catalog := &memoryCatalog{movies: []domain.Movie{movie("P", 5, 40, drama)}}
	prefs := staticPrefs{"u1": {UserID: "u1", MovieIDs: []string{"P"}}}
	history := staticInteractions{"u1": {
		{UserID: "u1", MovieID: "M", MovieUpstreamID: 603, Kind: domain.InteractionWatched},
	}}
	trending := staticTrending{movies: []domain.Movie{
		{UpstreamID: 603, Title: "watched, unmirrored copy"},
		{UpstreamID: 5, Title: "liked, unmirrored copy"},
		{UpstreamID: 8, Title: "fresh"},
	}}
	engine := New(catalog, prefs, history, trending, Options{}, zerolog.Nop())

	got, err := engine.Recommend(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(got) != 1 || got[0].UpstreamID != 8 {
		t.Fatalf("got %+v, want only upstream 8", got)
	}
}

func TestRecommend_UnmirroredTrendingDroppedWhenMirrorUnavailable(t *testing.T) {
	catalog := &memoryCatalog{lookupErr: errors.New("db down")}
	trending := staticTrending{movies: []domain.Movie{
		movie("T", 1, 50),
		{UpstreamID: 2, Title: "unmirrored"},
	}}
	engine := New(catalog, staticPrefs{}, staticInteractions{}, trending, Options{}, zerolog.Nop())

	got, err := engine.Recommend(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !equal(ids(got), []string{"T"}) {
		t.Fatalf("got %+v, want [T]", got)
	}
}

func TestRecommend_TrendingFailureDoesNotFail(t *testing.T) {
	catalog := &memoryCatalog{movies: []domain.Movie{movie("A", 1, 80, action)}}
	prefs := staticPrefs{"u1": {UserID: "u1", GenreIDs: []int{action}}}
	trending := staticTrending{err: domain.ErrUpstreamUnavailable}
	engine := New(catalog, prefs, staticInteractions{}, trending, Options{}, zerolog.Nop())

	got, err := engine.Recommend(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("Recommend should degrade, got %v", err)
	}
	if !equal(ids(got), []string{"A"}) {
		t.Fatalf("got %v, want [A]", ids(got))
	}

	empty, err := New(&memoryCatalog{}, staticPrefs{}, staticInteractions{}, trending, Options{}, zerolog.Nop()).
		Recommend(context.Background(), "u2", 5)
	if err != nil || len(empty) != 0 {
		t.Fatalf("cold user with upstream down = %v, %v", empty, err)
	}
}

type failingPrefs struct{}

func (failingPrefs) Get(context.Context, string) (domain.Preferences, error) {
	return domain.Preferences{}, errors.New("db down")
}

func TestRecommend_StoreErrorsSurface(t *testing.T) {
	engine := New(&memoryCatalog{}, failingPrefs{}, staticInteractions{}, staticTrending{}, Options{}, zerolog.Nop())
	if _, err := engine.Recommend(context.Background(), "u1", 5); err == nil {
		t.Fatalf("expected preference load error")
	}
}

func TestRank_TieBreakAndWeights(t *testing.T) {
	candidates := []domain.Movie{
		movie("late", 9, 50, action),
		movie("early", 3, 50, action),
		movie("overlap", 5, 49.5, action, drama, comedy),
	}
	ranked := Rank(candidates, []int{action, drama, comedy}, DefaultWeights())
	// overlap: 49.5*0.5 + 3*0.2 = 25.35 beats 50*0.5 + 0.2 = 25.2
	if !equal(ids(ranked), []string{"overlap", "early", "late"}) {
		t.Fatalf("ranked = %v", ids(ranked))
	}

	popularityOnly := Rank(candidates, []int{action}, Weights{Popularity: 1})
	if !equal(ids(popularityOnly), []string{"early", "late", "overlap"}) {
		t.Fatalf("popularity-only = %v", ids(popularityOnly))
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := []struct{ in, want int }{{0, 20}, {-5, 20}, {7, 7}, {100, 100}, {500, 100}}
	for _, tc := range cases {
		if got := NormalizeLimit(tc.in); got != tc.want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
