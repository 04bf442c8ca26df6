// Package responses renders the JSON envelopes shared by every endpoint.
package responses

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/castmatch/castmatch-server/internal/infrastructure/logger"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

// Response is the success envelope.
type Response struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Message    string      `json:"message,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total,omitempty"`
	TotalPages int   `json:"totalPages,omitempty"`
	HasMore    bool  `json:"hasMore"`
}

// ErrorResponse documents the error envelope for swagger.
type ErrorResponse = platformerrors.HTTPErrorResponse

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// Message replies 200 with only a message.
func Message(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Response{Success: true, Message: message})
}

func Page(c *gin.Context, data any, pagination Pagination) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Pagination: &pagination})
}

// HandleError writes err using its platform error type. Untyped errors are
// wrapped as internal errors with message.
func HandleError(c *gin.Context, err error, message string) {
	if platformerrors.GetPlatformError(err) == nil {
		err = platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, message)
	}
	_ = c.Error(err)
	platformerrors.WriteError(c, err, logger.GetLogger())
}

// HandleNewError creates and writes a new platform error.
func HandleNewError(c *gin.Context, errorType platformerrors.ErrorType, message, uuid string) {
	err := platformerrors.NewError(c.Request.Context(), platformerrors.LayerRoute, errorType, message, nil, uuid)
	_ = c.Error(err)
	platformerrors.WriteHTTPError(c, err, logger.GetLogger())
}
