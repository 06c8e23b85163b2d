// Package merge turns a complete set of staged chunks into a single file.
//
// A merge for an upload key runs at most once at a time. The merged bytes are
// written to <files>/<key>.all and only renamed to <files>/<key> once every
// part has been copied and synced, so readers never see a partial file. The
// staging directory is deleted after the rename succeeds, which means a
// failure at any point before that leaves the chunks in place for a retry.
package merge

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/materials-commons/mcload/pkg/chunkstore"
	"github.com/materials-commons/mcload/pkg/clog"
	"github.com/materials-commons/mcload/pkg/loaderr"
	"github.com/materials-commons/mcload/pkg/lock"
	pkgerrors "github.com/pkg/errors"
)

const tempSuffix = ".all"

type Outcome int

const (
	// Incomplete means not every chunk has arrived yet. It is a wait state,
	// not a failure.
	Incomplete Outcome = iota

	// Merged means this call produced the final file.
	Merged

	// AlreadyMerged means an earlier call produced the final file and this
	// call did nothing.
	AlreadyMerged
)

func (o Outcome) String() string {
	switch o {
	case Incomplete:
		return "incomplete"
	case Merged:
		return "merged"
	case AlreadyMerged:
		return "already merged"
	default:
		return "unknown"
	}
}

// LogicalFile is the merged upload on disk.
type LogicalFile struct {
	Path           string
	Size           int64
	LastAccessTime time.Time
}

type Result struct {
	Outcome Outcome

	// ChunkCount is the number of chunks staged when the merge was attempted.
	ChunkCount int

	// File is set for Merged and AlreadyMerged.
	File *LogicalFile
}

type syncWriteCloser interface {
	io.WriteCloser
	Sync() error
}

type Reassembler struct {
	chunks   *chunkstore.Store
	filesDir string
	locker   *lock.KeyLocker[string]

	openTemp func(path string) (syncWriteCloser, error)
	rename   func(oldpath, newpath string) error
}

func New(chunks *chunkstore.Store, filesDir string) *Reassembler {
	return &Reassembler{
		chunks:   chunks,
		filesDir: filepath.Clean(filesDir),
		locker:   lock.NewKeyLocker[string](),
		openTemp: createExclusive,
		rename:   os.Rename,
	}
}

func createExclusive(path string) (syncWriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
}

func (r *Reassembler) FinalPath(key string) string {
	return filepath.Join(r.filesDir, key)
}

func (r *Reassembler) tempPath(key string) string {
	return r.FinalPath(key) + tempSuffix
}

// Merged reports whether key's final file exists.
func (r *Reassembler) Merged(key string) bool {
	_, err := os.Stat(r.FinalPath(key))
	return err == nil
}

// TryMerge merges key's chunks if exactly expectedTotal of them are staged.
// It is safe to call concurrently and repeatedly: calls for the same key are
// serialized, and once the final file exists later calls return
// AlreadyMerged without touching it.
//
// ctx is checked while copying; when it is done the temporary file is
// removed, the chunks are left in place and an IOFailure is returned.
func (r *Reassembler) TryMerge(ctx context.Context, key string, expectedTotal int) (*Result, error) {
	if err := chunkstore.ValidateKey(key); err != nil {
		return nil, err
	}

	if expectedTotal < 1 {
		return nil, loaderr.Invalid("merge", key, "expected total %d must be at least 1", expectedTotal)
	}

	var result *Result
	err := r.locker.WithLock(key, func() error {
		var err error
		result, err = r.merge(ctx, key, expectedTotal)
		return err
	})

	return result, err
}

func (r *Reassembler) merge(ctx context.Context, key string, expectedTotal int) (*Result, error) {
	logger := clog.ForUpload("merge", key)
	finalPath := r.FinalPath(key)

	if finfo, err := os.Stat(finalPath); err == nil {
		// A previous merge promoted its file but may have failed to clear staging.
		if r.chunks.Exists(key) {
			if err := r.chunks.RemoveStaging(key); err != nil {
				logger.Warnf("Unable to remove leftover staging dir: %s", err)
			}
		}
		return &Result{Outcome: AlreadyMerged, File: toLogicalFile(finalPath, finfo)}, nil
	}

	chunks, err := r.chunks.ListChunks(key)
	switch {
	case errors.Is(err, chunkstore.ErrNoStagingDir):
		return &Result{Outcome: Incomplete}, nil
	case err != nil:
		return nil, err
	}

	if len(chunks) != expectedTotal {
		return &Result{Outcome: Incomplete, ChunkCount: len(chunks)}, nil
	}

	for i, c := range chunks {
		if c.Index != i {
			return nil, loaderr.Invalid("merge", key, "have %d chunks but index %d is missing", expectedTotal, i)
		}
	}

	if err := os.MkdirAll(r.filesDir, 0755); err != nil {
		return nil, loaderr.IO("merge", key, r.filesDir, pkgerrors.Wrap(err, "create files dir"))
	}

	// Left behind by a merge that crashed before promoting.
	_ = os.Remove(r.tempPath(key))

	if len(chunks) == 1 {
		err = r.promoteSingle(ctx, key, chunks[0])
	} else {
		err = r.promoteConcatenated(ctx, key, chunks)
	}

	if err != nil {
		return nil, err
	}

	if err := r.chunks.RemoveStaging(key); err != nil {
		// The merged file is in place, so the parts are just litter now.
		logger.Warnf("Merged but unable to remove staging dir: %s", err)
	}

	finfo, err := os.Stat(finalPath)
	if err != nil {
		return nil, loaderr.IO("merge", key, finalPath, pkgerrors.Wrap(err, "stat merged file"))
	}

	logger.WithField("chunks", len(chunks)).WithField("size", finfo.Size()).Infof("Merged upload")

	return &Result{Outcome: Merged, ChunkCount: len(chunks), File: toLogicalFile(finalPath, finfo)}, nil
}

// promoteSingle handles the one-chunk case, where the merge is just a move.
// The part goes through the temporary name like a concatenated merge so the
// final name only ever appears with complete contents. When the part can't be
// moved, for instance because staging and files are on different devices, it
// is copied instead.
func (r *Reassembler) promoteSingle(ctx context.Context, key string, chunk chunkstore.Chunk) error {
	tmp := r.tempPath(key)
	if err := r.rename(chunk.Path, tmp); err != nil {
		clog.ForUpload("merge", key).Debugf("Unable to move single part (%s), copying it", err)
		return r.promoteConcatenated(ctx, key, []chunkstore.Chunk{chunk})
	}

	if err := r.rename(tmp, r.FinalPath(key)); err != nil {
		// The part has left staging. Put it back so a later trigger can retry;
		// if that fails too, the temp file is the only copy left.
		if rerr := r.rename(tmp, chunk.Path); rerr != nil {
			return loaderr.New(loaderr.InconsistentState, "merge", key, tmp,
				pkgerrors.Wrapf(err, "promote failed and part could not be restored (%s)", rerr))
		}
		return loaderr.IO("merge", key, r.FinalPath(key), pkgerrors.Wrap(err, "promote merged file"))
	}

	return nil
}

// promoteConcatenated appends every part, in index order, to the temporary
// file and then renames it to the final name. On any failure the temporary
// file is removed and the staged parts are untouched.
func (r *Reassembler) promoteConcatenated(ctx context.Context, key string, chunks []chunkstore.Chunk) error {
	tmp := r.tempPath(key)
	out, err := r.openTemp(tmp)
	if err != nil {
		return loaderr.IO("merge", key, tmp, pkgerrors.Wrap(err, "create merge file"))
	}

	err = appendParts(ctx, out, chunks)
	if err == nil {
		err = out.Sync()
	}

	if cerr := out.Close(); err == nil && cerr != nil {
		err = pkgerrors.Wrap(cerr, "close merge file")
	}

	if err != nil {
		_ = os.Remove(tmp)
		return loaderr.IO("merge", key, tmp, err)
	}

	if err := r.rename(tmp, r.FinalPath(key)); err != nil {
		_ = os.Remove(tmp)
		return loaderr.IO("merge", key, r.FinalPath(key), pkgerrors.Wrap(err, "promote merged file"))
	}

	return nil
}

func appendParts(ctx context.Context, w io.Writer, chunks []chunkstore.Chunk) error {
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return pkgerrors.Wrapf(err, "merge stopped before part %d", c.Index)
		}

		if err := appendPart(ctx, w, c); err != nil {
			return err
		}
	}

	return nil
}

func appendPart(ctx context.Context, w io.Writer, c chunkstore.Chunk) error {
	in, err := os.Open(c.Path)
	if err != nil {
		return pkgerrors.Wrapf(err, "open part %d", c.Index)
	}
	defer in.Close()

	if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: in}); err != nil {
		return pkgerrors.Wrapf(err, "copy part %d", c.Index)
	}

	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}

func toLogicalFile(path string, finfo fs.FileInfo) *LogicalFile {
	return &LogicalFile{
		Path:           path,
		Size:           finfo.Size(),
		LastAccessTime: time.Now(),
	}
}
