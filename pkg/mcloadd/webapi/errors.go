package webapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcload/pkg/loaderr"
)

func errorResponse(ctx echo.Context, httpError int, msg string) error {
	return ctx.JSON(httpError, map[string]string{"error": msg})
}

// statusForError maps the error kinds to the status a client should see.
func statusForError(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case loaderr.Is(err, loaderr.InvalidInput):
		return http.StatusBadRequest
	case loaderr.Is(err, loaderr.NotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
