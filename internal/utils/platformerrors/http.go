package platformerrors

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HTTPErrorResponse is the error body returned by every endpoint.
type HTTPErrorResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

const internalErrorMessage = "An internal error occurred"

// ToHTTPResponse converts a PlatformError into its status and response body.
// Internal and database errors never leak their message to the client.
func ToHTTPResponse(err *PlatformError) (int, HTTPErrorResponse) {
	status := ErrorTypeToHTTPStatus(err.Type)
	resp := HTTPErrorResponse{
		Success:   false,
		Message:   err.Message,
		Error:     string(err.Type),
		RequestID: err.RequestID,
	}

	if status >= http.StatusInternalServerError && err.Type != ErrorTypeExternal {
		resp.Message = internalErrorMessage
		resp.Error = string(ErrorTypeInternal)
	}
	if err.Type == ErrorTypeRateLimited {
		resp.RetryAfter = err.RetryAfter()
	}
	return status, resp
}

// WriteHTTPError writes a PlatformError as an HTTP response.
func WriteHTTPError(c *gin.Context, err *PlatformError, log zerolog.Logger) {
	if err == nil {
		WriteInternalError(c, "unknown error")
		return
	}

	LogError(log, err)

	status, resp := ToHTTPResponse(err)
	if resp.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	c.AbortWithStatusJSON(status, resp)
}

// WriteError writes any error as an HTTP response; untyped errors become 500s.
func WriteError(c *gin.Context, err error, log zerolog.Logger) {
	if err == nil {
		WriteInternalError(c, "unknown error")
		return
	}

	if platformErr := GetPlatformError(err); platformErr != nil {
		WriteHTTPError(c, platformErr, log)
		return
	}

	log.Error().Err(err).Msg("unhandled error")
	WriteInternalError(c, internalErrorMessage)
}

// WriteUnauthorized writes a 401 Unauthorized response.
func WriteUnauthorized(c *gin.Context, message string) {
	write(c, http.StatusUnauthorized, ErrorTypeUnauthorized, message)
}

// WriteForbidden writes a 403 Forbidden response.
func WriteForbidden(c *gin.Context, message string) {
	write(c, http.StatusForbidden, ErrorTypeForbidden, message)
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(c *gin.Context, message string) {
	write(c, http.StatusInternalServerError, ErrorTypeInternal, message)
}

func write(c *gin.Context, status int, errorType ErrorType, message string) {
	c.AbortWithStatusJSON(status, HTTPErrorResponse{
		Success: false,
		Message: message,
		Error:   string(errorType),
	})
}
