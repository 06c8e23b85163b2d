package webapi

import (
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcload/pkg/upload"
)

type RouteOpts struct {
	Coordinator      *upload.Coordinator
	Service          *upload.Service
	MaxChunkBytes    int64
	DefaultDelimiter string
}

func SetupRoutes(e *echo.Echo, opts RouteOpts) {
	g := e.Group("/api")

	uploadController := NewUploadController(opts.Coordinator)
	uploadController.MaxChunkBytes = opts.MaxChunkBytes
	g.POST("/uploads/start", uploadController.StartUpload)
	g.POST("/uploads/chunk", uploadController.UploadChunk)
	g.GET("/uploads/status", uploadController.GetUploadStatus)
	g.GET("/uploads/pending", uploadController.ListPendingUploads)

	fileMappingController := NewFileMappingController(opts.Service)
	if opts.DefaultDelimiter != "" {
		fileMappingController.DefaultDelimiter = opts.DefaultDelimiter
	}
	g.GET("/connections/:conn_id/files", fileMappingController.ListFileMappings)
	g.GET("/files/:id", fileMappingController.GetFileMapping)
	g.DELETE("/files/:id", fileMappingController.DeleteFileMapping)
	g.GET("/files/:id/columns", fileMappingController.ListColumns)
	g.POST("/files/:id/columns", fileMappingController.ExtractColumns)
}
