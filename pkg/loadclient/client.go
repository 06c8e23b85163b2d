// Package loadclient pushes local data files to an mcloadd server in chunks.
package loadclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcload/pkg/upload"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var ErrLoadAPI = errors.New("mcload api")

const (
	DefaultChunkSize   = 8 * 1024 * 1024
	DefaultConcurrency = 4
)

// ErrorResponse covers both error bodies the server sends: a plain
// {"error": ...} and a failed upload result carrying a cause.
type ErrorResponse struct {
	Error  string `json:"error"`
	Cause  string `json:"cause"`
	Status string `json:"status"`
}

func ToErrorFromResponse(resp *resty.Response) error {
	var errorResponse ErrorResponse
	if err := json.Unmarshal(resp.Body(), &errorResponse); err != nil {
		return errors.Join(ErrLoadAPI, fmt.Errorf("(HTTP Status: %d)- unable to parse json error response: %s", resp.StatusCode(), err))
	}

	msg := errorResponse.Error
	if msg == "" {
		msg = errorResponse.Cause
	}

	return errors.Join(ErrLoadAPI, fmt.Errorf("(HTTP Status: %d)- %s", resp.StatusCode(), msg))
}

type Client struct {
	rc *resty.Client

	ConnID      int
	ChunkSize   int64
	Concurrency int
}

func New(baseURL string, connID int) *Client {
	return &Client{
		rc:          resty.New().SetBaseURL(baseURL).SetHeader("Accept", "application/json"),
		ConnID:      connID,
		ChunkSize:   DefaultChunkSize,
		Concurrency: DefaultConcurrency,
	}
}

// Start asks the server for a new upload key.
func (c *Client) Start(ctx context.Context) (string, error) {
	var result struct {
		UploadKey string `json:"upload_key"`
	}

	resp, err := c.rc.R().SetContext(ctx).SetResult(&result).Post("/api/uploads/start")
	if err != nil {
		return "", err
	}

	if resp.IsError() {
		return "", ToErrorFromResponse(resp)
	}

	return result.UploadKey, nil
}

func (c *Client) SendChunk(ctx context.Context, key, name string, index, total int, data []byte) (*upload.UploadResult, error) {
	var result upload.UploadResult

	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"upload_key": key,
			"conn_id":    strconv.Itoa(c.ConnID),
			"name":       name,
			"index":      strconv.Itoa(index),
			"total":      strconv.Itoa(total),
		}).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		SetResult(&result).
		Post("/api/uploads/chunk")
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, ToErrorFromResponse(resp)
	}

	return &result, nil
}

func (c *Client) Status(ctx context.Context, key string, total int) (*upload.UploadResult, error) {
	var result upload.UploadResult

	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"upload_key": key, "total": strconv.Itoa(total)}).
		SetResult(&result).
		Get("/api/uploads/status")
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, ToErrorFromResponse(resp)
	}

	return &result, nil
}

// PushFile splits the file at path into ChunkSize pieces and sends them with
// up to Concurrency requests in flight. Chunks complete in whatever order the
// server handles them. name defaults to the file's base name.
func (c *Client) PushFile(ctx context.Context, path, name string) (*upload.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	finfo, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = filepath.Base(path)
	}

	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	// An empty file still goes up as a single empty chunk.
	total := int((finfo.Size() + chunkSize - 1) / chunkSize)
	if total == 0 {
		total = 1
	}

	key, err := c.Start(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "start upload")
	}

	var (
		mu     sync.Mutex
		merged *upload.UploadResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency())

	for i := 0; i < total; i++ {
		index := i
		g.Go(func() error {
			data := make([]byte, chunkSize)
			n, err := f.ReadAt(data, int64(index)*chunkSize)
			if err != nil && !errors.Is(err, io.EOF) {
				return pkgerrors.Wrapf(err, "read chunk %d", index)
			}

			result, err := c.SendChunk(gctx, key, name, index, total, data[:n])
			if err != nil {
				return pkgerrors.Wrapf(err, "send chunk %d", index)
			}

			if result.Status == upload.StatusSuccess {
				mu.Lock()
				merged = result
				mu.Unlock()
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if merged != nil {
		return merged, nil
	}

	result, err := c.Status(ctx, key, total)
	if err != nil {
		return nil, err
	}

	if result.Status != upload.StatusSuccess {
		return nil, fmt.Errorf("upload %s not merged after all %d chunks were sent (status %s)", key, total, result.Status)
	}

	return result, nil
}

func (c *Client) ExtractColumns(ctx context.Context, id int, delimiter string, hasHeader bool) (*mcmodel.FileMapping, error) {
	var fm mcmodel.FileMapping

	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"delimiter": delimiter, "has_header": hasHeader}).
		SetResult(&fm).
		Post(fmt.Sprintf("/api/files/%d/columns", id))
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, ToErrorFromResponse(resp)
	}

	return &fm, nil
}

func (c *Client) concurrency() int {
	if c.Concurrency < 1 {
		return 1
	}

	return c.Concurrency
}
