package service

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/bookery/bookery-service/internal/errs"
	"github.com/bookery/bookery-service/internal/model"
	"github.com/bookery/bookery-service/internal/repository"
	"github.com/bookery/bookery-service/pkg/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPopularLimit matches the home page grid.
	DefaultPopularLimit = 12
	// MaxPopularLimit bounds upstream hydration cost per request.
	MaxPopularLimit = 24
	// profileReviewLimit caps how many of a user's reviews get hydrated.
	profileReviewLimit = 50

	maxUserResults = 6
)

// BookFetcher is the metadata cache seam. A nil result is a tolerated miss.
type BookFetcher interface {
	GetOrFetch(ctx context.Context, catalogID string) *model.BookRecord
}

type Service struct {
	log      *zap.Logger
	repo     repository.Repository
	books    BookFetcher
	producer sarama.SyncProducer
}

// NewService wires the review store, the shared metadata cache and an
// optional event producer.
func NewService(repo repository.Repository, books BookFetcher, producer sarama.SyncProducer, log *zap.Logger) *Service {
	return &Service{
		log:      log,
		repo:     repo,
		books:    books,
		producer: producer,
	}
}

// TopBooks ranks books by review count and hydrates the top set.
//
// The sort is deliberately two-phase: the store orders by raw count and
// truncates to limit before any hydration, then the title tie-break runs only
// within the truncated set. A lower-counted book that would have tied and won
// alphabetically can therefore miss the cut; accepted, since it bounds
// upstream calls to limit instead of the full catalog.
func (s *Service) TopBooks(ctx context.Context, limit int) ([]model.PopularBook, error) {
	if limit <= 0 {
		limit = DefaultPopularLimit
	}
	if limit > MaxPopularLimit {
		limit = MaxPopularLimit
	}

	stats, err := s.repo.AggregateByBook(ctx, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(stats))
	for _, st := range stats {
		ids = append(ids, st.CatalogID)
	}
	records := s.fetchAll(ctx, ids)

	items := make([]model.PopularBook, 0, len(stats))
	for _, st := range stats {
		rec := records[st.CatalogID]
		if rec == nil {
			// unavailable upstream; omit from the grid rather than fail the page
			continue
		}
		items = append(items, model.PopularBook{
			BookRecord:  *rec,
			ReviewCount: st.ReviewCount,
			AvgRating:   roundRating(st.AvgRating),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ReviewCount != items[j].ReviewCount {
			return items[i].ReviewCount > items[j].ReviewCount
		}
		return strings.ToLower(items[i].Title) < strings.ToLower(items[j].Title)
	})

	return items, nil
}

func (s *Service) StatsFor(ctx context.Context, catalogID string) (model.AggregateStat, error) {
	return s.repo.StatsFor(ctx, catalogID)
}

// ReviewsFor returns a book's review feed in canonical order, best first.
func (s *Service) ReviewsFor(ctx context.Context, catalogID string) ([]model.Review, error) {
	return s.repo.ReviewsByBook(ctx, catalogID)
}

// Hydrate joins reviews with catalog records. Distinct ids are fetched once
// each, in parallel; the output preserves input length and order, with a nil
// Book wherever the lookup failed.
func (s *Service) Hydrate(ctx context.Context, reviews []model.Review) []model.HydratedReview {
	ids := make([]string, 0, len(reviews))
	seen := make(map[string]struct{}, len(reviews))
	for _, rv := range reviews {
		if _, ok := seen[rv.CatalogID]; ok {
			continue
		}
		seen[rv.CatalogID] = struct{}{}
		ids = append(ids, rv.CatalogID)
	}

	records := s.fetchAll(ctx, ids)

	hydrated := make([]model.HydratedReview, 0, len(reviews))
	for _, rv := range reviews {
		hydrated = append(hydrated, model.HydratedReview{
			Review: rv,
			Book:   records[rv.CatalogID],
		})
	}
	return hydrated
}

// fetchAll resolves every distinct id through the cache in parallel and
// settles only when all lookups finished; individual failures land as absent
// map entries.
func (s *Service) fetchAll(ctx context.Context, ids []string) map[string]*model.BookRecord {
	records := make(map[string]*model.BookRecord, len(ids))
	var mu sync.Mutex

	gg, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		gg.Go(func() error {
			rec := s.books.GetOrFetch(ctx, id)
			if rec == nil {
				return nil
			}
			mu.Lock()
			records[id] = rec
			mu.Unlock()
			return nil
		})
	}
	_ = gg.Wait() // workers never return errors; misses are nil entries

	return records
}

// UserReviews resolves a profile: the user plus their hydrated review
// history, best reviews first, capped for hydration cost.
func (s *Service) UserReviews(ctx context.Context, username string) (model.UserSummary, []model.HydratedReview, int, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return model.UserSummary{}, nil, 0, errs.ErrNotFound
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return model.UserSummary{}, nil, 0, err
	}

	reviews, err := s.repo.ReviewsByUser(ctx, user.ID)
	if err != nil {
		return model.UserSummary{}, nil, 0, err
	}

	total := len(reviews)
	if len(reviews) > profileReviewLimit {
		reviews = reviews[:profileReviewLimit]
	}

	return user, s.Hydrate(ctx, reviews), total, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]model.UserSummary, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if len(query) < 2 {
		return []model.UserSummary{}, nil
	}
	users, err := s.repo.SearchUsers(ctx, query, maxUserResults)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []model.UserSummary{}
	}
	return users, nil
}

func (s *Service) CreateReview(ctx context.Context, userID string, req model.CreateReviewRequest) (model.Review, error) {
	review, err := s.repo.CreateReview(ctx, userID, req)
	if err != nil {
		return model.Review{}, err
	}
	s.publishEvent("review.created", review)
	return review, nil
}

func (s *Service) UpdateReview(ctx context.Context, userID, reviewID string, req model.UpdateReviewRequest) error {
	review, err := s.repo.GetReview(ctx, reviewID)
	if err != nil {
		return err
	}
	if review.UserID != userID {
		return errs.ErrForbidden
	}
	if err := s.repo.UpdateReview(ctx, reviewID, req.Rating, strings.TrimSpace(req.Text)); err != nil {
		return err
	}
	review.Rating = req.Rating
	s.publishEvent("review.updated", review)
	return nil
}

func (s *Service) DeleteReview(ctx context.Context, userID, reviewID string) error {
	review, err := s.repo.GetReview(ctx, reviewID)
	if err != nil {
		return err
	}
	if review.UserID != userID {
		return errs.ErrForbidden
	}
	if err := s.repo.DeleteReview(ctx, reviewID); err != nil {
		return err
	}
	s.publishEvent("review.deleted", review)
	return nil
}

// publishEvent is best effort: the write already committed and must not fail
// on a broker problem.
func (s *Service) publishEvent(event string, review model.Review) {
	if s.producer == nil {
		return
	}
	data, err := json.Marshal(model.ReviewEvent{
		Event:     event,
		ReviewID:  review.ID,
		UserID:    review.UserID,
		CatalogID: review.CatalogID,
		Rating:    review.Rating,
	})
	if err != nil {
		return
	}
	msg := &sarama.ProducerMessage{Topic: kafka.ReviewEventsTopic, Value: sarama.StringEncoder(data)}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		s.log.Warn("publish review event", zap.String("event", event), zap.Error(err))
	}
}

func roundRating(avg *float64) *float64 {
	if avg == nil {
		return nil
	}
	rounded := math.Round(*avg*100) / 100
	return &rounded
}
