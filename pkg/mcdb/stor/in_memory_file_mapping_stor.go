package stor

import (
	"sort"
	"sync"
	"time"

	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
)

type InMemoryFileMappingStor struct {
	mu       sync.Mutex
	mappings map[int]mcmodel.FileMapping
	nextID   int

	// When set, CreateFileMapping returns this error instead of storing the
	// record. Tests use it to exercise cleanup after a failed create.
	CreateErr error
}

func NewInMemoryFileMappingStor() *InMemoryFileMappingStor {
	return &InMemoryFileMappingStor{
		mappings: make(map[int]mcmodel.FileMapping),
		nextID:   1,
	}
}

func (s *InMemoryFileMappingStor) CreateFileMapping(fm *mcmodel.FileMapping) (*mcmodel.FileMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return nil, s.CreateErr
	}

	fm.ID = s.nextID
	s.nextID++
	fm.CreatedAt = time.Now()
	fm.UpdatedAt = fm.CreatedAt
	s.mappings[fm.ID] = *fm

	return fm, nil
}

func (s *InMemoryFileMappingStor) GetFileMappingByID(id int) (*mcmodel.FileMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fm, ok := s.mappings[id]
	if !ok {
		return nil, ErrFileMappingNotFound
	}

	return &fm, nil
}

func (s *InMemoryFileMappingStor) GetFileMappingByUploadKey(uploadKey string) (*mcmodel.FileMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fm := range s.mappings {
		if fm.UploadKey == uploadKey {
			return &fm, nil
		}
	}

	return nil, ErrFileMappingNotFound
}

func (s *InMemoryFileMappingStor) UpdateFileMapping(fm *mcmodel.FileMapping) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mappings[fm.ID]
	if !ok {
		return 0, nil
	}

	updated := *fm
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	s.mappings[fm.ID] = updated

	return 1, nil
}

func (s *InMemoryFileMappingStor) DeleteFileMapping(id int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[id]; !ok {
		return 0, nil
	}

	delete(s.mappings, id)
	return 1, nil
}

func (s *InMemoryFileMappingStor) ListFileMappings(connID, page, pageSize int) (*mcmodel.FileMappingPage, error) {
	page, pageSize = normalizePage(page, pageSize)

	s.mu.Lock()
	var matches []mcmodel.FileMapping
	for _, fm := range s.mappings {
		if fm.ConnID == connID {
			matches = append(matches, fm)
		}
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Name > matches[j].Name
	})

	result := &mcmodel.FileMappingPage{
		Total:    int64(len(matches)),
		Page:     page,
		PageSize: pageSize,
		Records:  []mcmodel.FileMapping{},
	}

	start := (page - 1) * pageSize
	if start >= len(matches) {
		return result, nil
	}

	end := start + pageSize
	if end > len(matches) {
		end = len(matches)
	}

	result.Records = matches[start:end]
	return result, nil
}

func (s *InMemoryFileMappingStor) ListAllFileMappings() ([]mcmodel.FileMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]mcmodel.FileMapping, 0, len(s.mappings))
	for _, fm := range s.mappings {
		all = append(all, fm)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}
