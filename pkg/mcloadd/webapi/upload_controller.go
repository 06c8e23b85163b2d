package webapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcload/pkg/upload"
)

// UploadController receives chunked uploads. Chunks for one upload may be sent
// concurrently and in any order; the request carrying the last missing chunk
// gets back the new file mapping id.
type UploadController struct {
	coordinator *upload.Coordinator

	// MaxChunkBytes limits a single chunk body. Zero means no limit.
	MaxChunkBytes int64
}

func NewUploadController(coordinator *upload.Coordinator) *UploadController {
	return &UploadController{coordinator: coordinator}
}

// StartUpload hands out a new upload key.
func (c *UploadController) StartUpload(ctx echo.Context) error {
	key, err := upload.NewUploadKey()
	if err != nil {
		return errorResponse(ctx, http.StatusInternalServerError, "Failed to create upload key")
	}

	return ctx.JSON(http.StatusOK, map[string]string{"upload_key": key})
}

// UploadChunk stores the request body as one chunk. The upload is described
// by the query parameters upload_key, conn_id, name, index and total.
func (c *UploadController) UploadChunk(ctx echo.Context) error {
	var (
		d   upload.Delivery
		err error
	)

	d.UploadKey = ctx.QueryParam("upload_key")
	if d.UploadKey == "" {
		return errorResponse(ctx, http.StatusBadRequest, "upload_key is required")
	}

	d.Name = ctx.QueryParam("name")
	if d.Name == "" {
		return errorResponse(ctx, http.StatusBadRequest, "name is required")
	}

	if d.ConnID, err = strconv.Atoi(ctx.QueryParam("conn_id")); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid conn_id")
	}

	if d.Index, err = strconv.Atoi(ctx.QueryParam("index")); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid index")
	}

	if d.Total, err = strconv.Atoi(ctx.QueryParam("total")); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid total")
	}

	body := ctx.Request().Body
	if c.MaxChunkBytes > 0 {
		body = http.MaxBytesReader(ctx.Response(), body, c.MaxChunkBytes)
	}
	d.Data = body

	return uploadResultResponse(ctx, c.coordinator.ReceiveChunk(ctx.Request().Context(), d))
}

// GetUploadStatus reports an upload's progress. total is optional.
func (c *UploadController) GetUploadStatus(ctx echo.Context) error {
	key := ctx.QueryParam("upload_key")
	if key == "" {
		return errorResponse(ctx, http.StatusBadRequest, "upload_key is required")
	}

	total := 0
	if t := ctx.QueryParam("total"); t != "" {
		var err error
		if total, err = strconv.Atoi(t); err != nil {
			return errorResponse(ctx, http.StatusBadRequest, "Invalid total")
		}
	}

	return uploadResultResponse(ctx, c.coordinator.Status(key, total))
}

func (c *UploadController) ListPendingUploads(ctx echo.Context) error {
	pending, err := c.coordinator.Pending()
	if err != nil {
		return errorResponse(ctx, statusForError(err), err.Error())
	}

	return ctx.JSON(http.StatusOK, pending)
}

func uploadResultResponse(ctx echo.Context, result *upload.UploadResult) error {
	if result.Status == upload.StatusFailure {
		return ctx.JSON(statusForError(result.Err), result)
	}

	return ctx.JSON(http.StatusOK, result)
}
