package upload

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/materials-commons/mcload/pkg/clog"
	"github.com/materials-commons/mcload/pkg/loaderr"
	"github.com/materials-commons/mcload/pkg/lock"
	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcload/pkg/mcdb/stor"
	"github.com/materials-commons/mcload/pkg/sniff"
)

// Service works with file mappings once their upload has been merged.
type Service struct {
	fileMappingStor stor.FileMappingStor
	sniffer         *sniff.Sniffer

	// Serializes read-modify-write of a single record.
	locker *lock.KeyLocker[int]
}

func NewService(fileMappingStor stor.FileMappingStor, sniffer *sniff.Sniffer) *Service {
	return &Service{
		fileMappingStor: fileMappingStor,
		sniffer:         sniffer,
		locker:          lock.NewKeyLocker[int](),
	}
}

func (s *Service) Get(id int) (*mcmodel.FileMapping, error) {
	fm, err := s.fileMappingStor.GetFileMappingByID(id)
	switch {
	case errors.Is(err, stor.ErrFileMappingNotFound):
		return nil, loaderr.New(loaderr.NotFound, "get file mapping", "", "", err)
	case err != nil:
		return nil, err
	}

	return fm, nil
}

func (s *Service) List(connID, page, pageSize int) (*mcmodel.FileMappingPage, error) {
	return s.fileMappingStor.ListFileMappings(connID, page, pageSize)
}

func (s *Service) Update(fm *mcmodel.FileMapping) error {
	count, err := s.fileMappingStor.UpdateFileMapping(fm)
	if err != nil {
		return err
	}

	if count == 0 {
		return loaderr.New(loaderr.NotFound, "update file mapping", fm.UploadKey, "", stor.ErrFileMappingNotFound)
	}

	return nil
}

// MissingFiles returns the file mappings whose merged file is no longer on disk.
func (s *Service) MissingFiles() ([]mcmodel.FileMapping, error) {
	all, err := s.fileMappingStor.ListAllFileMappings()
	if err != nil {
		return nil, err
	}

	var missing []mcmodel.FileMapping
	for _, fm := range all {
		if _, err := os.Stat(fm.Path); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, fm)
		}
	}

	return missing, nil
}

// Remove deletes the record and then the merged file it points at. A file
// that is already gone is not an error.
func (s *Service) Remove(id int) error {
	s.locker.AcquireLock(id)
	defer s.locker.ReleaseLock(id)

	fm, err := s.Get(id)
	if err != nil {
		return err
	}

	if _, err := s.fileMappingStor.DeleteFileMapping(id); err != nil {
		return err
	}

	if err := os.Remove(fm.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return loaderr.IO("remove file", fm.UploadKey, fm.Path, err)
	}

	clog.ForUpload("filemapping", fm.UploadKey).Infof("Removed file mapping %d (%s)", id, fm.Name)

	return nil
}

// ExtractColumns sniffs the mapping's file using setting's delimiter and
// header flag, stores the columns found and refreshes the last access time.
func (s *Service) ExtractColumns(id int, setting mcmodel.FileSetting) (*mcmodel.FileMapping, error) {
	s.locker.AcquireLock(id)
	defer s.locker.ReleaseLock(id)

	fm, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	fileSetting := fm.FileSetting
	fileSetting.Delimiter = setting.Delimiter
	fileSetting.HasHeader = setting.HasHeader

	if err := s.sniffer.Apply(fm.Path, &fileSetting); err != nil {
		return nil, err
	}

	fm.FileSetting = fileSetting
	fm.LastAccessTime = time.Now()

	if err := s.Update(fm); err != nil {
		return nil, err
	}

	clog.UsingCtx("filemapping").Debugf("Extracted %d columns from file mapping %d", len(fileSetting.ColumnNames), id)

	return fm, nil
}
