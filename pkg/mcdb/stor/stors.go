package stor

import (
	"errors"

	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"gorm.io/gorm"
)

var ErrFileMappingNotFound = errors.New("file mapping not found")

// FileMappingStor persists FileMapping records. Update and Delete return the
// number of records they touched; 0 means the id did not exist. Deleting a
// record never touches the file on disk, that is up to the caller.
type FileMappingStor interface {
	CreateFileMapping(fm *mcmodel.FileMapping) (*mcmodel.FileMapping, error)
	GetFileMappingByID(id int) (*mcmodel.FileMapping, error)
	GetFileMappingByUploadKey(uploadKey string) (*mcmodel.FileMapping, error)
	UpdateFileMapping(fm *mcmodel.FileMapping) (int64, error)
	DeleteFileMapping(id int) (int64, error)
	ListFileMappings(connID, page, pageSize int) (*mcmodel.FileMappingPage, error)
	ListAllFileMappings() ([]mcmodel.FileMapping, error)
}

type Stors struct {
	FileMappingStor FileMappingStor
}

func NewGormStors(db *gorm.DB) *Stors {
	return &Stors{
		FileMappingStor: NewGormFileMappingStor(db),
	}
}

// normalizePage clamps page numbers to start at 1 and page sizes to 1..maxPageSize.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}

	switch {
	case pageSize < 1:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}

	return page, pageSize
}

const (
	defaultPageSize = 10
	maxPageSize     = 500
)
