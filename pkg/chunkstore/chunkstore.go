// Package chunkstore keeps the part files of in-flight uploads. Each upload
// key gets its own staging directory, <root>/<key>.parts, holding one file
// per chunk named by the chunk's decimal index.
package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gosimple/slug"
	"github.com/materials-commons/mcload/pkg/loaderr"
	pkgerrors "github.com/pkg/errors"
	"github.com/saracen/walker"
)

const (
	stagingSuffix = ".parts"
	partialSuffix = ".tmp"
)

// ErrNoStagingDir is returned by ListChunks when the upload has no staging
// directory, either because it never started or because it was already merged.
var ErrNoStagingDir = errors.New("no staging directory")

// Chunk is one staged part file.
type Chunk struct {
	Index int
	Path  string
	Size  int64
}

// PendingUpload summarizes a staging directory that has not been merged yet.
type PendingUpload struct {
	UploadKey  string `json:"upload_key"`
	ChunkCount int    `json:"chunk_count"`
	Bytes      int64  `json:"bytes"`
}

type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) Root() string {
	return s.root
}

// ValidateKey rejects upload keys that are not safe to use as a single path
// element. Keys must be slugs: lower case letters, digits, dashes and
// underscores, with no leading or trailing separator.
func ValidateKey(key string) error {
	if !slug.IsSlug(key) {
		return loaderr.Invalid("validate key", key, "upload key must be a slug")
	}

	return nil
}

func (s *Store) StagingDir(key string) string {
	return filepath.Join(s.root, key+stagingSuffix)
}

func (s *Store) chunkPath(key string, index int) string {
	return filepath.Join(s.StagingDir(key), strconv.Itoa(index))
}

// AppendChunk writes chunk index for key and returns the number of bytes
// written. Calls for different indexes of the same key may run concurrently.
// The part is written under a temporary name and renamed into place, so
// ListChunks never reports a half-written part. Writing an index that already
// exists replaces it.
func (s *Store) AppendChunk(key string, index int, data io.Reader) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}

	if index < 0 {
		return 0, loaderr.Invalid("append chunk", key, "chunk index %d is negative", index)
	}

	dir := s.StagingDir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, loaderr.IO("append chunk", key, dir, pkgerrors.Wrap(err, "create staging dir"))
	}

	path := s.chunkPath(key, index)
	tmp, err := os.CreateTemp(dir, fmt.Sprintf("%d-*%s", index, partialSuffix))
	if err != nil {
		return 0, loaderr.IO("append chunk", key, path, pkgerrors.Wrapf(err, "create part %d", index))
	}

	n, err := io.Copy(tmp, data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, loaderr.IO("append chunk", key, path, pkgerrors.Wrapf(err, "write part %d", index))
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return n, loaderr.IO("append chunk", key, path, pkgerrors.Wrapf(err, "commit part %d", index))
	}

	return n, nil
}

// ListChunks returns the staged parts for key sorted by index. It returns
// ErrNoStagingDir when the staging directory does not exist, and an empty
// slice when it exists but holds no parts yet.
func (s *Store) ListChunks(key string) ([]Chunk, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	dir := s.StagingDir(key)
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNoStagingDir
	case err != nil:
		return nil, loaderr.IO("list chunks", key, dir, err)
	}

	chunks := make([]Chunk, 0, len(entries))
	for _, entry := range entries {
		index, ok := parseIndex(entry.Name())
		if !ok || !entry.Type().IsRegular() {
			continue
		}

		finfo, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Replaced by a concurrent re-send between ReadDir and Info.
				continue
			}
			return nil, loaderr.IO("list chunks", key, filepath.Join(dir, entry.Name()), err)
		}

		chunks = append(chunks, Chunk{
			Index: index,
			Path:  filepath.Join(dir, entry.Name()),
			Size:  finfo.Size(),
		})
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	return chunks, nil
}

// Exists reports whether key currently has a staging directory.
func (s *Store) Exists(key string) bool {
	finfo, err := os.Stat(s.StagingDir(key))
	return err == nil && finfo.IsDir()
}

// RemoveStaging deletes key's staging directory and every part in it.
func (s *Store) RemoveStaging(key string) error {
	dir := s.StagingDir(key)
	if err := os.RemoveAll(dir); err != nil {
		return loaderr.IO("remove staging", key, dir, err)
	}

	return nil
}

// ListPending walks the staging root and reports every upload that still has
// a staging directory, sorted by key.
func (s *Store) ListPending() ([]PendingUpload, error) {
	var (
		mu      sync.Mutex
		pending = make(map[string]*PendingUpload)
	)

	if _, err := os.Stat(s.root); errors.Is(err, fs.ErrNotExist) {
		return []PendingUpload{}, nil
	}

	err := walker.Walk(s.root, func(pathname string, fi os.FileInfo) error {
		parent := filepath.Dir(pathname)
		if fi.IsDir() {
			if pathname != s.root && parent != s.root {
				// Only <root>/<key>.parts is expected, nothing nested below it.
				return filepath.SkipDir
			}
			if key, ok := keyFromStagingDir(fi.Name()); ok && parent == s.root {
				mu.Lock()
				if _, seen := pending[key]; !seen {
					pending[key] = &PendingUpload{UploadKey: key}
				}
				mu.Unlock()
			}
			return nil
		}

		key, ok := keyFromStagingDir(filepath.Base(parent))
		if !ok || filepath.Dir(parent) != s.root {
			return nil
		}

		if _, ok := parseIndex(fi.Name()); !ok {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		p, seen := pending[key]
		if !seen {
			p = &PendingUpload{UploadKey: key}
			pending[key] = p
		}
		p.ChunkCount++
		p.Bytes += fi.Size()

		return nil
	}, walker.WithErrorCallback(func(pathname string, err error) error {
		// Directories vanish while being walked when a merge finishes.
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}))

	if err != nil {
		return nil, loaderr.IO("list pending", "", s.root, err)
	}

	result := make([]PendingUpload, 0, len(pending))
	for _, p := range pending {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UploadKey < result[j].UploadKey })

	return result, nil
}

func keyFromStagingDir(name string) (string, bool) {
	if !strings.HasSuffix(name, stagingSuffix) {
		return "", false
	}

	key := strings.TrimSuffix(name, stagingSuffix)
	return key, slug.IsSlug(key)
}

// parseIndex accepts only canonical decimal names ("0", "17"), which rules
// out in-progress "<n>-*.tmp" files and anything else dropped in the dir.
func parseIndex(name string) (int, bool) {
	index, err := strconv.Atoi(name)
	if err != nil || index < 0 || strconv.Itoa(index) != name {
		return 0, false
	}

	return index, true
}
