// Package httpapi exposes the websocket endpoint and the REST routes.
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Deps struct {
	Sessions http.Handler
	News     *NewsHandler
	Store    Pinger
	Metrics  prometheus.Gatherer
	Logger   *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), AccessLog(d.Logger), Recovery(d.Logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", RequestIDHeader, "Upgrade", "Connection"},
		ExposeHeaders:   []string{"Content-Length", RequestIDHeader},
	}))
	r.Use(ErrorTranslator(d.Logger))

	r.GET("/ws", gin.WrapH(d.Sessions))
	r.GET("/company-news", d.News.GetCompanyNews)
	r.GET("/healthz", healthHandler(d.Store))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{})))

	return r
}
