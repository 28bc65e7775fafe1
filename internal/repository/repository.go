package repository

import (
	"context"
	"database/sql"

	"github.com/bookery/bookery-service/internal/errs"
	"github.com/bookery/bookery-service/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	sq "github.com/Masterminds/squirrel"
)

type Repository interface {
	CreateReview(ctx context.Context, userID string, req model.CreateReviewRequest) (model.Review, error)
	GetReview(ctx context.Context, id string) (model.Review, error)
	UpdateReview(ctx context.Context, id string, rating float64, text string) error
	DeleteReview(ctx context.Context, id string) error
	ReviewsByBook(ctx context.Context, catalogID string) ([]model.Review, error)
	ReviewsByUser(ctx context.Context, userID string) ([]model.Review, error)
	AggregateByBook(ctx context.Context, limit int) ([]model.AggregateStat, error)
	StatsFor(ctx context.Context, catalogID string) (model.AggregateStat, error)
	GetUserByUsername(ctx context.Context, username string) (model.UserSummary, error)
	SearchUsers(ctx context.Context, prefix string, limit int) ([]model.UserSummary, error)
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
	}, nil
}

const (
	usersTableName   = `users`
	reviewsTableName = `reviews`
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (r *repository) CreateReview(ctx context.Context, userID string, req model.CreateReviewRequest) (model.Review, error) {
	query, args, err := qb.Insert(reviewsTableName).
		Columns("id", "user_id", "catalog_id", "rating", "text").
		Values(uuid.New(), userID, req.CatalogID, req.Rating, req.Text).
		Suffix("returning id, user_id, catalog_id, rating, text, created_at, updated_at").
		ToSql()
	if err != nil {
		return model.Review{}, err
	}

	var review model.Review
	if err := r.db.GetContext(ctx, &review, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return model.Review{}, errs.ErrConflict
		}
		r.log.Error("CreateReview", zap.String("q", query), zap.Any("args", args))
		return model.Review{}, err
	}
	return review, nil
}

func (r *repository) GetReview(ctx context.Context, id string) (model.Review, error) {
	query, args, err := qb.Select("id", "user_id", "catalog_id", "rating", "text", "created_at", "updated_at").
		From(reviewsTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.Review{}, err
	}

	var review model.Review
	if err := r.db.GetContext(ctx, &review, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Review{}, errs.ErrNotFound
		}
		return model.Review{}, err
	}
	return review, nil
}

func (r *repository) UpdateReview(ctx context.Context, id string, rating float64, text string) error {
	query, args, err := qb.Update(reviewsTableName).
		Set("rating", rating).
		Set("text", text).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repository) DeleteReview(ctx context.Context, id string) error {
	query, args, err := qb.Delete(reviewsTableName).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ReviewsByBook returns a book's feed in canonical order: best reviews first.
func (r *repository) ReviewsByBook(ctx context.Context, catalogID string) ([]model.Review, error) {
	query, args, err := qb.Select("r.id", "r.user_id", "u.username", "r.catalog_id", "r.rating", "r.text", "r.created_at", "r.updated_at").
		From(reviewsTableName + " r").
		Join(usersTableName + " u on u.id = r.user_id").
		Where(sq.Eq{"catalog_id": catalogID}).
		OrderBy("r.rating desc", "r.created_at desc").
		ToSql()
	if err != nil {
		return nil, err
	}

	var reviews []model.Review
	if err := r.db.SelectContext(ctx, &reviews, query, args...); err != nil {
		return nil, err
	}
	return reviews, nil
}

func (r *repository) ReviewsByUser(ctx context.Context, userID string) ([]model.Review, error) {
	query, args, err := qb.Select("r.id", "r.user_id", "u.username", "r.catalog_id", "r.rating", "r.text", "r.created_at", "r.updated_at").
		From(reviewsTableName + " r").
		Join(usersTableName + " u on u.id = r.user_id").
		Where(sq.Eq{"r.user_id": userID}).
		OrderBy("r.rating desc", "r.created_at desc").
		ToSql()
	if err != nil {
		return nil, err
	}

	var reviews []model.Review
	if err := r.db.SelectContext(ctx, &reviews, query, args...); err != nil {
		return nil, err
	}
	return reviews, nil
}

// AggregateByBook groups all reviews by catalog id ordered by review count
// descending. The lexical tie-break happens later, after hydration, because
// raw stats carry no title.
func (r *repository) AggregateByBook(ctx context.Context, limit int) ([]model.AggregateStat, error) {
	query, args, err := qb.Select("catalog_id", "count(*) as review_count", "avg(rating) as avg_rating").
		From(reviewsTableName).
		GroupBy("catalog_id").
		OrderBy("review_count desc").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	r.log.Debug("AggregateByBook", zap.String("query", query), zap.Any("args", args))

	var stats []model.AggregateStat
	if err := r.db.SelectContext(ctx, &stats, query, args...); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *repository) StatsFor(ctx context.Context, catalogID string) (model.AggregateStat, error) {
	query, args, err := qb.Select("count(*) as review_count", "avg(rating) as avg_rating").
		From(reviewsTableName).
		Where(sq.Eq{"catalog_id": catalogID}).
		ToSql()
	if err != nil {
		return model.AggregateStat{}, err
	}

	stat := model.AggregateStat{CatalogID: catalogID}
	if err := r.db.GetContext(ctx, &stat, query, args...); err != nil {
		return model.AggregateStat{}, err
	}
	stat.CatalogID = catalogID
	return stat, nil
}

func (r *repository) GetUserByUsername(ctx context.Context, username string) (model.UserSummary, error) {
	query, args, err := qb.Select("id", "username").
		From(usersTableName).
		Where(sq.Eq{"username": username}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.UserSummary{}, err
	}

	var user model.UserSummary
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UserSummary{}, errs.ErrNotFound
		}
		return model.UserSummary{}, err
	}
	return user, nil
}

func (r *repository) SearchUsers(ctx context.Context, prefix string, limit int) ([]model.UserSummary, error) {
	query, args, err := qb.Select("id", "username").
		From(usersTableName).
		Where(sq.ILike{"username": prefix + "%"}).
		OrderBy("username").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var users []model.UserSummary
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, err
	}
	return users, nil
}
