// Package upload ties chunk delivery, merging and file mapping records
// together. The Coordinator handles the write path and the Service handles
// everything done with a file mapping after it exists.
package upload

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/materials-commons/mcload/pkg/chunkstore"
	"github.com/materials-commons/mcload/pkg/clog"
	"github.com/materials-commons/mcload/pkg/loaderr"
	"github.com/materials-commons/mcload/pkg/lock"
	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcload/pkg/mcdb/stor"
	"github.com/materials-commons/mcload/pkg/merge"
	pkgerrors "github.com/pkg/errors"
)

type Merger interface {
	TryMerge(ctx context.Context, key string, expectedTotal int) (*merge.Result, error)
	Merged(key string) bool
}

type Coordinator struct {
	chunks          *chunkstore.Store
	merger          Merger
	fileMappingStor stor.FileMappingStor

	// Held across merging and record creation so that a caller who finds the
	// upload already merged also finds its record.
	locker *lock.KeyLocker[string]

	// MergeTimeout bounds a single merge. Zero means no limit.
	MergeTimeout time.Duration
}

func NewCoordinator(chunks *chunkstore.Store, merger Merger, fileMappingStor stor.FileMappingStor) *Coordinator {
	return &Coordinator{
		chunks:          chunks,
		merger:          merger,
		fileMappingStor: fileMappingStor,
		locker:          lock.NewKeyLocker[string](),
	}
}

// NewUploadKey returns a fresh random upload key.
func NewUploadKey() (string, error) {
	key, err := uuid.GenerateUUID()
	if err != nil {
		return "", pkgerrors.Wrap(err, "generate upload key")
	}

	return key, nil
}

// ReceiveChunk stores one chunk and, when it completes the set, merges the
// upload and creates its file mapping. Chunks for an upload that has already
// been merged are acknowledged without being written.
func (c *Coordinator) ReceiveChunk(ctx context.Context, d Delivery) *UploadResult {
	result := &UploadResult{UploadKey: d.UploadKey, Name: d.Name}

	if err := chunkstore.ValidateKey(d.UploadKey); err != nil {
		return result.fail(err)
	}

	if d.Total < 1 || d.Index < 0 || d.Index >= d.Total {
		return result.fail(loaderr.Invalid("receive chunk", d.UploadKey, "chunk %d of %d is out of range", d.Index, d.Total))
	}

	if c.merger.Merged(d.UploadKey) {
		clog.ForUpload("upload", d.UploadKey).Debugf("Ignoring chunk %d, upload already merged", d.Index)
		return c.lookupMerged(result)
	}

	if _, err := c.chunks.AppendChunk(d.UploadKey, d.Index, d.Data); err != nil {
		// A merge that finished while the chunk was being written removes the
		// staging dir out from under it.
		if loaderr.Is(err, loaderr.IOFailure) && c.merger.Merged(d.UploadKey) {
			clog.ForUpload("upload", d.UploadKey).Debugf("Chunk %d arrived while the upload was merging", d.Index)
			return c.lookupMerged(result)
		}
		return result.fail(err)
	}

	return c.complete(ctx, d, result)
}

// UploadFile stores data as a one chunk upload under a new key.
func (c *Coordinator) UploadFile(ctx context.Context, connID int, name string, data io.Reader) *UploadResult {
	key, err := NewUploadKey()
	if err != nil {
		return (&UploadResult{Name: name}).fail(err)
	}

	return c.ReceiveChunk(ctx, Delivery{
		UploadKey: key,
		ConnID:    connID,
		Name:      name,
		Index:     0,
		Total:     1,
		Data:      data,
	})
}

// Status reports where an upload stands without writing or merging anything.
func (c *Coordinator) Status(key string, total int) *UploadResult {
	result := &UploadResult{UploadKey: key}

	if err := chunkstore.ValidateKey(key); err != nil {
		return result.fail(err)
	}

	if c.merger.Merged(key) {
		return c.lookupMerged(result)
	}

	chunks, err := c.chunks.ListChunks(key)
	switch {
	case errors.Is(err, chunkstore.ErrNoStagingDir):
		result.Status = StatusPending
		return result
	case err != nil:
		return result.fail(err)
	}

	result.ChunkCount = len(chunks)
	for _, chunk := range chunks {
		result.Size += chunk.Size
	}

	result.Status = StatusPending
	if total > 0 && len(chunks) > total {
		return result.fail(loaderr.Invalid("status", key, "%d chunks staged but only %d expected", len(chunks), total))
	}

	return result
}

func (c *Coordinator) Pending() ([]chunkstore.PendingUpload, error) {
	return c.chunks.ListPending()
}

func (c *Coordinator) complete(ctx context.Context, d Delivery, result *UploadResult) *UploadResult {
	if c.MergeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.MergeTimeout)
		defer cancel()
	}

	c.locker.AcquireLock(d.UploadKey)
	defer c.locker.ReleaseLock(d.UploadKey)

	mergeResult, err := c.merger.TryMerge(ctx, d.UploadKey, d.Total)
	if err != nil {
		clog.ForUpload("upload", d.UploadKey).Errorf("Merge failed: %s", err)
		return result.fail(err)
	}

	switch mergeResult.Outcome {
	case merge.Incomplete:
		result.Status = StatusPending
		result.ChunkCount = mergeResult.ChunkCount
		return result
	case merge.AlreadyMerged:
		return c.withExistingRecord(result)
	default:
		return c.createRecord(d, mergeResult.File, result)
	}
}

// createRecord adds the file mapping for a freshly merged file. If the record
// can't be created the merged file is removed so nothing on disk is left
// without an owner.
func (c *Coordinator) createRecord(d Delivery, file *merge.LogicalFile, result *UploadResult) *UploadResult {
	fm := mcmodel.NewFileMapping(d.ConnID, d.Name, file.Path, file.Size)
	fm.UploadKey = d.UploadKey
	fm.LastAccessTime = file.LastAccessTime

	created, err := c.fileMappingStor.CreateFileMapping(fm)
	if err != nil {
		if rmErr := os.Remove(file.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			clog.ForUpload("upload", d.UploadKey).Errorf("Unable to remove %s after failed record create: %s", file.Path, rmErr)
		}
		return result.fail(pkgerrors.Wrapf(err, "create file mapping for upload %s", d.UploadKey))
	}

	result.ID = created.ID
	result.Size = created.Size
	result.ChunkCount = d.Total
	result.Status = StatusSuccess

	return result
}

// lookupMerged waits out any record creation still in progress for the key
// before looking the record up.
func (c *Coordinator) lookupMerged(result *UploadResult) *UploadResult {
	c.locker.AcquireLock(result.UploadKey)
	defer c.locker.ReleaseLock(result.UploadKey)

	return c.withExistingRecord(result)
}

func (c *Coordinator) withExistingRecord(result *UploadResult) *UploadResult {
	fm, err := c.fileMappingStor.GetFileMappingByUploadKey(result.UploadKey)
	switch {
	case errors.Is(err, stor.ErrFileMappingNotFound):
		// The file is on disk but has no record, for example while a removal
		// is deleting the record before the file.
		return result.fail(loaderr.New(loaderr.InconsistentState, "lookup record", result.UploadKey, "", err))
	case err != nil:
		return result.fail(err)
	}

	result.ID = fm.ID
	result.Name = fm.Name
	result.Size = fm.Size
	result.Status = StatusSuccess

	return result
}
