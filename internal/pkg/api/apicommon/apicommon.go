package apicommon

import (
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RespondWithError writes the error as a JSON APIError response.
func RespondWithError(c *gin.Context, statusCode int, err error, errorContext string) {
	log.WithError(err).Debugf("responding with status %d", statusCode)
	c.JSON(statusCode, APIError{InnerError: APIErrorInner{
		Code:         statusCode,
		Message:      err.Error(),
		ErrorContext: errorContext,
	}})
}
