package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bookery/bookery-service/internal/errs"
	"github.com/bookery/bookery-service/internal/model"
	"github.com/bookery/bookery-service/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRepo struct {
	aggregates []model.AggregateStat
	stats      model.AggregateStat
	bookFeed   []model.Review
	user       model.UserSummary
	userErr    error
	reviews    []model.Review
	review     model.Review
	reviewErr  error
	createErr  error
	users      []model.UserSummary

	searchCalls   int
	lastUsername  string
	lastUserQuery string
	lastLimit     int
	updated       bool
	deleted       bool
}

func (s *stubRepo) CreateReview(_ context.Context, userID string, req model.CreateReviewRequest) (model.Review, error) {
	if s.createErr != nil {
		return model.Review{}, s.createErr
	}
	return model.Review{ID: "r1", UserID: userID, CatalogID: req.CatalogID, Rating: req.Rating, Text: req.Text}, nil
}

func (s *stubRepo) GetReview(context.Context, string) (model.Review, error) {
	return s.review, s.reviewErr
}

func (s *stubRepo) UpdateReview(context.Context, string, float64, string) error {
	s.updated = true
	return nil
}

func (s *stubRepo) DeleteReview(context.Context, string) error {
	s.deleted = true
	return nil
}

func (s *stubRepo) ReviewsByBook(context.Context, string) ([]model.Review, error) {
	return s.bookFeed, nil
}

func (s *stubRepo) ReviewsByUser(context.Context, string) ([]model.Review, error) {
	return s.reviews, nil
}

func (s *stubRepo) AggregateByBook(_ context.Context, limit int) ([]model.AggregateStat, error) {
	s.lastLimit = limit
	if len(s.aggregates) > limit {
		return s.aggregates[:limit], nil
	}
	return s.aggregates, nil
}

func (s *stubRepo) StatsFor(_ context.Context, catalogID string) (model.AggregateStat, error) {
	st := s.stats
	st.CatalogID = catalogID
	return st, nil
}

func (s *stubRepo) GetUserByUsername(_ context.Context, username string) (model.UserSummary, error) {
	s.lastUsername = username
	return s.user, s.userErr
}

func (s *stubRepo) SearchUsers(_ context.Context, prefix string, limit int) ([]model.UserSummary, error) {
	s.searchCalls++
	s.lastUserQuery = prefix
	return s.users, nil
}

// countingFetcher resolves ids to books with configurable titles and records
// how many fetches each id took.
type countingFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	titles map[string]string
	fail   map[string]bool
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		calls:  make(map[string]int),
		titles: make(map[string]string),
		fail:   make(map[string]bool),
	}
}

func (f *countingFetcher) GetOrFetch(_ context.Context, catalogID string) *model.BookRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[catalogID]++
	if f.fail[catalogID] {
		return nil
	}
	title := f.titles[catalogID]
	if title == "" {
		title = "Book " + catalogID
	}
	return &model.BookRecord{CatalogID: catalogID, Title: title}
}

func (f *countingFetcher) callCount(catalogID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[catalogID]
}

func newTestService(repo *stubRepo, fetcher *countingFetcher) *service.Service {
	return service.NewService(repo, fetcher, nil, zap.NewExample())
}

func TestService_Hydrate(t *testing.T) {
	t.Parallel()

	t.Run("deduplicates distinct ids and preserves order", func(t *testing.T) {
		t.Parallel()
		fetcher := newCountingFetcher()
		svc := newTestService(&stubRepo{}, fetcher)

		reviews := []model.Review{
			{ID: "r1", CatalogID: "b1"},
			{ID: "r2", CatalogID: "b2"},
			{ID: "r3", CatalogID: "b1"},
			{ID: "r4", CatalogID: "b1"},
			{ID: "r5", CatalogID: "b2"},
		}

		hydrated := svc.Hydrate(context.Background(), reviews)
		require.Len(t, hydrated, len(reviews))
		for i := range reviews {
			require.Equal(t, reviews[i].ID, hydrated[i].Review.ID)
			require.NotNil(t, hydrated[i].Book)
			require.Equal(t, reviews[i].CatalogID, hydrated[i].Book.CatalogID)
		}
		require.Equal(t, 1, fetcher.callCount("b1"))
		require.Equal(t, 1, fetcher.callCount("b2"))
	})

	t.Run("a failed lookup never drops the review", func(t *testing.T) {
		t.Parallel()
		fetcher := newCountingFetcher()
		fetcher.fail["b2"] = true
		svc := newTestService(&stubRepo{}, fetcher)

		hydrated := svc.Hydrate(context.Background(), []model.Review{
			{ID: "r1", CatalogID: "b1"},
			{ID: "r2", CatalogID: "b2"},
			{ID: "r3", CatalogID: "b1"},
		})
		require.Len(t, hydrated, 3)
		require.NotNil(t, hydrated[0].Book)
		require.Nil(t, hydrated[1].Book)
		require.NotNil(t, hydrated[2].Book)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		svc := newTestService(&stubRepo{}, newCountingFetcher())
		require.Empty(t, svc.Hydrate(context.Background(), nil))
	})
}

func avg(v float64) *float64 { return &v }

func TestService_TopBooks(t *testing.T) {
	t.Parallel()

	t.Run("two phase sort with case-insensitive title tie-break", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{aggregates: []model.AggregateStat{
			{CatalogID: "b1", ReviewCount: 3, AvgRating: avg(4.0)},
			{CatalogID: "b2", ReviewCount: 5, AvgRating: avg(4.333333)},
			{CatalogID: "b3", ReviewCount: 3, AvgRating: avg(2.5)},
		}}
		fetcher := newCountingFetcher()
		fetcher.titles["b1"] = "zebra crossing"
		fetcher.titles["b2"] = "Middlemarch"
		fetcher.titles["b3"] = "Aurora"
		svc := newTestService(repo, fetcher)

		items, err := svc.TopBooks(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, items, 3)
		require.Equal(t, "b2", items[0].CatalogID)
		require.Equal(t, "b3", items[1].CatalogID) // Aurora < zebra, case-insensitive
		require.Equal(t, "b1", items[2].CatalogID)
		require.Equal(t, 4.33, *items[0].AvgRating)
	})

	t.Run("clamps limit", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{}
		svc := newTestService(repo, newCountingFetcher())

		_, err := svc.TopBooks(context.Background(), 100)
		require.NoError(t, err)
		require.Equal(t, service.MaxPopularLimit, repo.lastLimit)

		_, err = svc.TopBooks(context.Background(), 0)
		require.NoError(t, err)
		require.Equal(t, service.DefaultPopularLimit, repo.lastLimit)
	})

	t.Run("omits books the catalog cannot resolve", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{aggregates: []model.AggregateStat{
			{CatalogID: "b1", ReviewCount: 4, AvgRating: avg(4)},
			{CatalogID: "b2", ReviewCount: 2, AvgRating: avg(3)},
		}}
		fetcher := newCountingFetcher()
		fetcher.fail["b1"] = true
		svc := newTestService(repo, fetcher)

		items, err := svc.TopBooks(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		require.Equal(t, "b2", items[0].CatalogID)
	})
}

func TestService_UserReviews(t *testing.T) {
	t.Parallel()

	t.Run("normalizes the username", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{user: model.UserSummary{ID: "u1", Username: "alice"}}
		svc := newTestService(repo, newCountingFetcher())

		_, _, _, err := svc.UserReviews(context.Background(), "  Alice ")
		require.NoError(t, err)
		require.Equal(t, "alice", repo.lastUsername)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{userErr: errs.ErrNotFound}
		svc := newTestService(repo, newCountingFetcher())

		_, _, _, err := svc.UserReviews(context.Background(), "ghost")
		require.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("hydrates at most the profile cap", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{user: model.UserSummary{ID: "u1", Username: "alice"}}
		for i := 0; i < 60; i++ {
			repo.reviews = append(repo.reviews, model.Review{
				ID:        fmt.Sprintf("r%d", i),
				CatalogID: fmt.Sprintf("b%d", i),
				CreatedAt: time.Now(),
			})
		}
		svc := newTestService(repo, newCountingFetcher())

		_, hydrated, total, err := svc.UserReviews(context.Background(), "alice")
		require.NoError(t, err)
		require.Equal(t, 60, total)
		require.Len(t, hydrated, 50)
	})
}

func TestService_SearchUsers(t *testing.T) {
	t.Parallel()

	t.Run("short queries never hit the store", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{}
		svc := newTestService(repo, newCountingFetcher())

		users, err := svc.SearchUsers(context.Background(), " a ")
		require.NoError(t, err)
		require.Empty(t, users)
		require.Zero(t, repo.searchCalls)
	})

	t.Run("normalizes the query", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{users: []model.UserSummary{{ID: "u1", Username: "alice"}}}
		svc := newTestService(repo, newCountingFetcher())

		users, err := svc.SearchUsers(context.Background(), "  ALi ")
		require.NoError(t, err)
		require.Len(t, users, 1)
		require.Equal(t, "ali", repo.lastUserQuery)
	})
}

func TestService_ReviewOwnership(t *testing.T) {
	t.Parallel()

	t.Run("update by another user is forbidden", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{review: model.Review{ID: "r1", UserID: "u1", Rating: 3}}
		svc := newTestService(repo, newCountingFetcher())

		err := svc.UpdateReview(context.Background(), "u2", "r1", model.UpdateReviewRequest{Rating: 4, Text: "nope"})
		require.ErrorIs(t, err, errs.ErrForbidden)
		require.False(t, repo.updated)
	})

	t.Run("delete by the author", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{review: model.Review{ID: "r1", UserID: "u1"}}
		svc := newTestService(repo, newCountingFetcher())

		require.NoError(t, svc.DeleteReview(context.Background(), "u1", "r1"))
		require.True(t, repo.deleted)
	})

	t.Run("conflict surfaces unchanged", func(t *testing.T) {
		t.Parallel()
		repo := &stubRepo{createErr: errs.ErrConflict}
		svc := newTestService(repo, newCountingFetcher())

		_, err := svc.CreateReview(context.Background(), "u1", model.CreateReviewRequest{CatalogID: "b1", Rating: 4})
		require.ErrorIs(t, err, errs.ErrConflict)
	})
}
