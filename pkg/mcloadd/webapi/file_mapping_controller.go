package webapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcload/pkg/upload"
)

type FileMappingController struct {
	service *upload.Service

	// DefaultDelimiter is used when a column extraction request leaves the
	// delimiter out.
	DefaultDelimiter string
}

func NewFileMappingController(service *upload.Service) *FileMappingController {
	return &FileMappingController{service: service, DefaultDelimiter: mcmodel.DefaultDelimiter}
}

func (c *FileMappingController) ListFileMappings(ctx echo.Context) error {
	connID, err := strconv.Atoi(ctx.Param("conn_id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid conn_id")
	}

	page, err := intQueryParam(ctx, "page", 1)
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid page")
	}

	pageSize, err := intQueryParam(ctx, "page_size", 10)
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid page_size")
	}

	result, err := c.service.List(connID, page, pageSize)
	if err != nil {
		return errorResponse(ctx, statusForError(err), err.Error())
	}

	return ctx.JSON(http.StatusOK, result)
}

func (c *FileMappingController) GetFileMapping(ctx echo.Context) error {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid file mapping id")
	}

	fm, err := c.service.Get(id)
	if err != nil {
		return errorResponse(ctx, statusForError(err), err.Error())
	}

	return ctx.JSON(http.StatusOK, fm)
}

// ListColumns returns the mapping's column names paired with the sample row
// from the last extraction.
func (c *FileMappingController) ListColumns(ctx echo.Context) error {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid file mapping id")
	}

	fm, err := c.service.Get(id)
	if err != nil {
		return errorResponse(ctx, statusForError(err), err.Error())
	}

	return ctx.JSON(http.StatusOK, fm.FileSetting.Columns())
}

// DeleteFileMapping removes both the record and its file.
func (c *FileMappingController) DeleteFileMapping(ctx echo.Context) error {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid file mapping id")
	}

	if err := c.service.Remove(id); err != nil {
		return errorResponse(ctx, statusForError(err), err.Error())
	}

	return ctx.NoContent(http.StatusNoContent)
}

// ExtractColumns sniffs a file's columns. A missing has_header is taken as true.
func (c *FileMappingController) ExtractColumns(ctx echo.Context) error {
	var req struct {
		Delimiter string `json:"delimiter"`
		HasHeader *bool  `json:"has_header"`
	}

	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid file mapping id")
	}

	if err := ctx.Bind(&req); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid request body")
	}

	setting := mcmodel.FileSetting{Delimiter: req.Delimiter, HasHeader: true}
	if setting.Delimiter == "" {
		setting.Delimiter = c.DefaultDelimiter
	}

	if req.HasHeader != nil {
		setting.HasHeader = *req.HasHeader
	}

	fm, err := c.service.ExtractColumns(id, setting)
	if err != nil {
		return errorResponse(ctx, statusForError(err), err.Error())
	}

	return ctx.JSON(http.StatusOK, fm)
}

func intQueryParam(ctx echo.Context, name string, defaultValue int) (int, error) {
	value := ctx.QueryParam(name)
	if value == "" {
		return defaultValue, nil
	}

	return strconv.Atoi(value)
}
