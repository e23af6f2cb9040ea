package handlers

import (
	"github.com/labstack/echo/v4"
)

// Response is the JSON envelope of every API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries the error code and a caller-safe message
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Response{Success: true, Data: data})
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, Response{Error: &ErrorBody{Code: code, Message: message}})
}
