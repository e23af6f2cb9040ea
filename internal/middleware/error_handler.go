package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/handlers"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

// CustomErrorHandler renders every error as {success:false, error:{code,message}}.
// Deal errors keep their code; echo errors map to a generic code by status.
func CustomErrorHandler(logger logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		errorCode := string(services.CodeStoreUnavailable)
		errorMessage := ""

		var de *services.DealError
		var he *echo.HTTPError
		switch {
		case errors.As(err, &de):
			code = services.HTTPStatus(err)
			errorCode = string(de.Code)
			errorMessage = services.APIMessage(err)
		case errors.As(err, &he):
			code = he.Code
			if msg, ok := he.Message.(string); ok && msg != "" {
				errorMessage = msg
			}

			switch code {
			case http.StatusNotFound:
				errorCode = "NOT_FOUND"
				if errorMessage == "" {
					errorMessage = "The resource you're looking for doesn't exist."
				}
			case http.StatusMethodNotAllowed:
				errorCode = "METHOD_NOT_ALLOWED"
			case http.StatusBadRequest, http.StatusUnsupportedMediaType:
				errorCode = string(services.CodeInvalidInput)
				if errorMessage == "" {
					errorMessage = "The request could not be processed."
				}
			default:
				errorCode = "HTTP_ERROR"
			}
			if code >= http.StatusInternalServerError {
				errorMessage = ""
			}
		}
		if errorMessage == "" {
			errorMessage = http.StatusText(code)
			if code >= http.StatusInternalServerError {
				errorMessage = "internal server error"
			}
		}

		entry := logger.WithFields(logrus.Fields{
			services.FieldEvent:   "http.error",
			services.FieldOutcome: errorCode,
			"status":              code,
			"method":              c.Request().Method,
			"path":                c.Request().URL.Path,
		}).WithError(err)
		if code >= http.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Info("request rejected")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, handlers.Response{Error: &handlers.ErrorBody{Code: errorCode, Message: errorMessage}})
		}
		if err != nil {
			logger.WithError(err).Error("failed to write error response")
		}
	}
}
