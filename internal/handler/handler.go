package handler

import (
	"net/http"
	"strconv"
	"strings"

	md "github.com/bookery/bookery-service/pkg/middleware"

	"github.com/bookery/bookery-service/internal/errs"
	"github.com/bookery/bookery-service/internal/model"
	"github.com/bookery/bookery-service/pkg/auth"
	"github.com/bookery/bookery-service/pkg/validate"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Handler struct {
	reviewSvc  ReviewService
	catalogSvc CatalogService
	log        *zap.Logger
}

func New(reviewSvc ReviewService, catalogSvc CatalogService, log *zap.Logger) *Handler {
	h := &Handler{
		reviewSvc:  reviewSvc,
		catalogSvc: catalogSvc,
		log:        log,
	}
	return h
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)
	base.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.Validator = validate.NewCustomValidator()

	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig()),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
	)

	api.GET("/books/popular", h.PopularBooks)
	api.GET("/books/search", h.SearchBooks)
	api.GET("/books/:catalogId", h.GetBook)

	api.GET("/users/search", h.SearchUsers)
	api.GET("/users/:username/reviews", h.UserReviews)

	api.GET("/search", h.Search)

	reviews := api.Group("/reviews", md.JwtAuthentication)
	reviews.POST("", h.CreateReview)
	reviews.PUT("/:id", h.UpdateReview)
	reviews.DELETE("/:id", h.DeleteReview)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) PopularBooks(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		err   error
		limit int
	)
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		if limit, err = strconv.Atoi(limitParam); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, errors.New("limit is invalid"))
		}
	}

	items, err := h.reviewSvc.TopBooks(ctx, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetBook composes the external record with locally owned reviews and stats.
// The three reads are independent and issue in parallel.
func (h *Handler) GetBook(c echo.Context) error {
	ctx := c.Request().Context()

	catalogID := c.Param("catalogId")
	if catalogID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, errors.New("empty catalogId"))
	}

	var (
		book    model.BookRecord
		reviews []model.Review
		stats   model.AggregateStat
	)
	gg, ctxCancel := errgroup.WithContext(ctx)
	gg.Go(func() error {
		var err error
		book, err = h.catalogSvc.GetBook(ctxCancel, catalogID)
		return err
	})
	gg.Go(func() error {
		var err error
		reviews, err = h.reviewSvc.ReviewsFor(ctxCancel, catalogID)
		return err
	})
	gg.Go(func() error {
		var err error
		stats, err = h.reviewSvc.StatsFor(ctxCancel, catalogID)
		return err
	})
	if err := gg.Wait(); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "book not found in catalog")
		}
		if errs.IsUpstream(err) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if reviews == nil {
		reviews = []model.Review{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"book":        book,
		"reviews":     reviews,
		"reviewCount": stats.ReviewCount,
		"avgRating":   stats.AvgRating,
	})
}

func (h *Handler) SearchBooks(c echo.Context) error {
	ctx := c.Request().Context()

	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, errors.New("q is required"))
	}
	var (
		err        error
		maxResults int
	)
	if maxParam := c.QueryParam("maxResults"); maxParam != "" {
		if maxResults, err = strconv.Atoi(maxParam); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, errors.New("maxResults is invalid"))
		}
	}

	items, err := h.catalogSvc.Search(ctx, query, maxResults)
	if err != nil {
		if errors.Is(err, errs.ErrBadQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func (h *Handler) SearchUsers(c echo.Context) error {
	users, err := h.reviewSvc.SearchUsers(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"users": users})
}

// Search is the server-side twin of the client search coordinator: both
// sources queried in parallel under one cancellable context.
func (h *Handler) Search(c echo.Context) error {
	ctx := c.Request().Context()

	query := strings.ToLower(strings.TrimSpace(c.QueryParam("q")))
	if len(query) < 2 {
		return c.JSON(http.StatusOK, model.SearchResultSet{
			Books: []model.BookSummary{},
			Users: []model.UserSummary{},
		})
	}

	var (
		books []model.BookSummary
		users []model.UserSummary
	)
	gg, ctxCancel := errgroup.WithContext(ctx)
	gg.Go(func() error {
		var err error
		books, err = h.catalogSvc.Search(ctxCancel, query, 0)
		return err
	})
	gg.Go(func() error {
		var err error
		users, err = h.reviewSvc.SearchUsers(ctxCancel, query)
		return err
	})
	if err := gg.Wait(); err != nil {
		if errs.IsUpstream(err) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	const maxVisible = 6
	if len(books) > maxVisible {
		books = books[:maxVisible]
	}
	if books == nil {
		books = []model.BookSummary{}
	}
	return c.JSON(http.StatusOK, model.SearchResultSet{Books: books, Users: users})
}

func (h *Handler) UserReviews(c echo.Context) error {
	ctx := c.Request().Context()

	username := c.Param("username")
	user, reviews, total, err := h.reviewSvc.UserReviews(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{
		"username":    user.Username,
		"reviewCount": total,
		"reviews":     reviews,
	})
}

func (h *Handler) CreateReview(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserID(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	var req model.CreateReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.CatalogID = strings.TrimSpace(req.CatalogID)
	if req.CatalogID == "" || req.Rating == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, errors.New("missing fields"))
	}
	if !model.ValidRating(req.Rating) {
		return echo.NewHTTPError(http.StatusBadRequest, errors.New("rating must be between 1 and 5 in 0.5 increments"))
	}

	review, err := h.reviewSvc.CreateReview(ctx, userID, req)
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return echo.NewHTTPError(http.StatusConflict, "you have already reviewed this book")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, echo.Map{"review": review})
}

func (h *Handler) UpdateReview(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserID(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	reviewID := c.Param("id")
	var req model.UpdateReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, errors.New("review text is required"))
	}
	if !model.ValidRating(req.Rating) {
		return echo.NewHTTPError(http.StatusBadRequest, errors.New("rating must be between 1 and 5 in 0.5 increments"))
	}

	if err := h.reviewSvc.UpdateReview(ctx, userID, reviewID, req); err != nil {
		return reviewWriteError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (h *Handler) DeleteReview(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserID(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	if err := h.reviewSvc.DeleteReview(ctx, userID, c.Param("id")); err != nil {
		return reviewWriteError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func reviewWriteError(err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "review not found")
	case errors.Is(err, errs.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
