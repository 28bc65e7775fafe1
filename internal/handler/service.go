package handler

import (
	"context"

	"github.com/bookery/bookery-service/internal/catalog"
	"github.com/bookery/bookery-service/internal/model"
	"github.com/bookery/bookery-service/internal/service"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go -package=mocks

var (
	_ ReviewService  = (*service.Service)(nil)
	_ CatalogService = (*catalog.Client)(nil)
)

type ReviewService interface {
	TopBooks(ctx context.Context, limit int) ([]model.PopularBook, error)
	ReviewsFor(ctx context.Context, catalogID string) ([]model.Review, error)
	StatsFor(ctx context.Context, catalogID string) (model.AggregateStat, error)
	Hydrate(ctx context.Context, reviews []model.Review) []model.HydratedReview
	UserReviews(ctx context.Context, username string) (model.UserSummary, []model.HydratedReview, int, error)
	SearchUsers(ctx context.Context, query string) ([]model.UserSummary, error)
	CreateReview(ctx context.Context, userID string, req model.CreateReviewRequest) (model.Review, error)
	UpdateReview(ctx context.Context, userID, reviewID string, req model.UpdateReviewRequest) error
	DeleteReview(ctx context.Context, userID, reviewID string) error
}

type CatalogService interface {
	GetBook(ctx context.Context, catalogID string) (model.BookRecord, error)
	Search(ctx context.Context, query string, maxResults int) ([]model.BookSummary, error)
}
