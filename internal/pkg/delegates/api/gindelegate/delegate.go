package gindelegate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/unbasical/webship/internal/pkg/api/apicommon"
	apidelegate "github.com/unbasical/webship/internal/pkg/delegates/api"
	error2 "github.com/unbasical/webship/internal/pkg/error"
)

type ginWebshipContext struct {
	c *gin.Context
}

// NewDelegate wraps a gin context into an apidelegate.APIDelegate.
func NewDelegate(c *gin.Context) apidelegate.APIDelegate {
	return &ginWebshipContext{c: c}
}

func (g *ginWebshipContext) ExtractCreateParams() (string, string, error) {
	if g.c.Request.Body == nil {
		return "", "", error2.ErrMissingRequestBody
	}
	var req apicommon.CreateDeploymentRequest
	if err := g.c.ShouldBindJSON(&req); err != nil {
		return "", "", error2.ErrUnmarshal
	}
	if req.Environment == "" || req.SnapshotRef == "" {
		return "", "", error2.ErrBadRequest
	}
	return req.Environment, req.SnapshotRef, nil
}

func (g *ginWebshipContext) ExtractRunID() (string, error) {
	id := g.c.Param("id")
	if id == "" {
		return "", error2.ErrBadRequest
	}
	return id, nil
}

func (g *ginWebshipContext) ExtractClientToken() (string, error) {
	authHeader := g.c.GetHeader("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("missing or invalid Authorization header")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	return token, nil
}

func (g *ginWebshipContext) HandleError(err error, msg string) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, error2.ErrDeploymentNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, error2.ErrUnknownEnvironment):
		statusCode = http.StatusNotFound
	case errors.Is(err, error2.ErrBadRequest),
		errors.Is(err, error2.ErrMissingRequestBody),
		errors.Is(err, error2.ErrUnmarshal),
		errors.Is(err, error2.ErrMalformedArtifacts):
		statusCode = http.StatusBadRequest
	case errors.Is(err, error2.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, error2.ErrEnvironmentBusy):
		statusCode = http.StatusConflict
	}
	apicommon.RespondWithError(g.c, statusCode, err, msg)
}

func (g *ginWebshipContext) HandleSuccess(response any) {
	g.c.JSON(http.StatusOK, response)
}

func (g *ginWebshipContext) HandleAccepted(response any) {
	g.c.JSON(http.StatusAccepted, response)
}
