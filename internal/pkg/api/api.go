package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/webship/internal/pkg/api/apicommon"
	"github.com/unbasical/webship/internal/pkg/core/deployengine"
	"github.com/unbasical/webship/internal/pkg/core/metrics"
	"github.com/unbasical/webship/internal/pkg/delegates/api/gindelegate"
)

// BuildApp wires the deployment API routes onto a gin engine.
func BuildApp(engine deployengine.Engine) *gin.Engine {
	log.Debug("Building app")
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), metrics.PrometheusMiddleware())

	v1 := r.Group(apicommon.ApiBasePathV1)
	v1.POST("/"+apicommon.DeploymentsApiPath, func(c *gin.Context) {
		engine.HandleCreateDeployment(gindelegate.NewDelegate(c))
	})
	v1.GET("/"+apicommon.DeploymentsApiPath+"/:id", func(c *gin.Context) {
		engine.HandleGetDeployment(gindelegate.NewDelegate(c))
	})
	v1.GET("/"+apicommon.EnvironmentsApiPath, func(c *gin.Context) {
		engine.HandleListEnvironments(gindelegate.NewDelegate(c))
	})
	v1.GET("/ping", ping)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.PromRegistry, promhttp.HandlerOpts{})))

	return r
}

func ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}
