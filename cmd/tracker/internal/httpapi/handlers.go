package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/news"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type NewsHandler struct {
	service         *news.Service
	defaultPageSize int
	logger          *zap.Logger
}

func NewNewsHandler(service *news.Service, defaultPageSize int, logger *zap.Logger) *NewsHandler {
	if defaultPageSize <= 0 {
		defaultPageSize = 10
	}
	return &NewsHandler{service: service, defaultPageSize: defaultPageSize, logger: logger}
}

// GetCompanyNews serves GET /company-news?symbol=&pageNo=&pageSize=&isPaginate=
func (h *NewsHandler) GetCompanyNews(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.Error(badRequest("symbol is required"))
		return
	}

	pageNo, err := strconv.Atoi(c.DefaultQuery("pageNo", "0"))
	if err != nil || pageNo < 0 {
		c.Error(badRequest("pageNo must be a non-negative integer"))
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(h.defaultPageSize)))
	if err != nil || pageSize <= 0 {
		c.Error(badRequest("pageSize must be a positive integer"))
		return
	}
	paginate, err := strconv.ParseBool(c.DefaultQuery("isPaginate", "true"))
	if err != nil {
		c.Error(badRequest("isPaginate must be true or false"))
		return
	}

	items, err := h.service.CompanyNews(c.Request.Context(), symbol)
	if err != nil {
		var fetchErr *news.FetchError
		if errors.As(err, &fetchErr) {
			c.Error(&HTTPError{Status: http.StatusBadGateway, Message: fetchErr.Error()})
			return
		}
		c.Error(err)
		return
	}

	h.logger.Info("Company news served",
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.String("symbol", symbol),
		zap.Int("items", len(items)),
	)

	if !paginate {
		c.JSON(http.StatusOK, items)
		return
	}
	c.JSON(http.StatusOK, news.Paginate(items, pageNo, pageSize))
}

func healthHandler(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
