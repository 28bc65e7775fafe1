package model

import (
	"math"
	"time"
)

// BookRecord is the externally owned catalog record. It is never persisted
// locally; it exists as a fetch result or a cache entry.
type BookRecord struct {
	CatalogID     string   `json:"catalogId"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Description   string   `json:"description"`
	CoverImage    string   `json:"coverImage"`
	PublishedDate string   `json:"publishedDate"`
	PageCount     *int     `json:"pageCount"`
	Categories    []string `json:"categories"`
	Publisher     string   `json:"publisher"`
	Language      string   `json:"language"`
}

// BookSummary is the keyword-search projection of a catalog record.
type BookSummary struct {
	CatalogID  string   `json:"catalogId"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	CoverImage string   `json:"coverImage"`
}

type Review struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	CatalogID string    `json:"catalogId" db:"catalog_id"`
	Rating    float64   `json:"rating" db:"rating"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// AggregateStat is derived per request by grouping reviews; it is never
// persisted. AvgRating is nil when the book has no reviews.
type AggregateStat struct {
	CatalogID   string   `json:"catalogId" db:"catalog_id"`
	ReviewCount int      `json:"reviewCount" db:"review_count"`
	AvgRating   *float64 `json:"avgRating" db:"avg_rating"`
}

// HydratedReview joins a review with its catalog record. Book is nil when the
// catalog lookup failed; the review itself is never dropped for that.
type HydratedReview struct {
	Review Review      `json:"review"`
	Book   *BookRecord `json:"book"`
}

type PopularBook struct {
	BookRecord
	ReviewCount int      `json:"reviewCount"`
	AvgRating   *float64 `json:"avgRating"`
}

type UserSummary struct {
	ID       string `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
}

// SearchResultSet is the combined output of one dual-source search pass.
type SearchResultSet struct {
	Books []BookSummary `json:"books"`
	Users []UserSummary `json:"users"`
}

type CreateReviewRequest struct {
	CatalogID string  `json:"catalogId"`
	Rating    float64 `json:"rating"`
	Text      string  `json:"text"`
}

type UpdateReviewRequest struct {
	Rating float64 `json:"rating"`
	Text   string  `json:"text"`
}

// ReviewEvent is published to kafka on review writes, best effort.
type ReviewEvent struct {
	Event     string  `json:"event"`
	ReviewID  string  `json:"reviewId"`
	UserID    string  `json:"userId"`
	CatalogID string  `json:"catalogId"`
	Rating    float64 `json:"rating"`
}

// ValidRating accepts exactly the half-star set {1, 1.5, ..., 5}.
func ValidRating(r float64) bool {
	if r < 1 || r > 5 {
		return false
	}
	doubled := r * 2
	return doubled == math.Trunc(doubled)
}
