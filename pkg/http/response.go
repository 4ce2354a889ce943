package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Envelope is the JSON shape every API response uses. Status mirrors the
// semantic status even when the transport-level code differs.
type Envelope struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func write(c echo.Context, wireStatus, appStatus int, data interface{}) error {
	return c.JSON(wireStatus, Envelope{
		Status:  appStatus,
		Message: http.StatusText(appStatus),
		Data:    data,
	})
}

// DataResponse reports statusCode inside a 200 envelope. API clients read
// the semantic status from the body.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return write(c, http.StatusOK, statusCode, data)
}

// StatusResponse puts statusCode on the wire as well as in the envelope.
// Streaming endpoints need the real status because EventSource clients never
// parse the body of a failed connect.
func StatusResponse(c echo.Context, statusCode int, data interface{}) error {
	return write(c, statusCode, statusCode, data)
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func CreatedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusCreated, data)
}

func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

func UnauthorizedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusUnauthorized, data)
}

// AppErrorResponse renders an AppError with its own status; anything else
// becomes an opaque 500.
func AppErrorResponse(c echo.Context, err error) error {
	var ae *AppError
	if errors.As(err, &ae) {
		return DataResponse(c, ae.Status, []*AppError{ae})
	}
	return DataResponse(c, http.StatusInternalServerError, "something went wrong")
}
