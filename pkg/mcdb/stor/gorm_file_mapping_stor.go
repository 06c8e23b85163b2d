package stor

import (
	"errors"
	"time"

	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"gorm.io/gorm"
)

type GormFileMappingStor struct {
	db *gorm.DB
}

func NewGormFileMappingStor(db *gorm.DB) *GormFileMappingStor {
	return &GormFileMappingStor{db: db}
}

func (s *GormFileMappingStor) CreateFileMapping(fm *mcmodel.FileMapping) (*mcmodel.FileMapping, error) {
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(fm).Error
	})

	if err != nil {
		return nil, err
	}

	return fm, nil
}

func (s *GormFileMappingStor) GetFileMappingByID(id int) (*mcmodel.FileMapping, error) {
	var fm mcmodel.FileMapping
	if err := s.db.First(&fm, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileMappingNotFound
		}
		return nil, err
	}

	return &fm, nil
}

func (s *GormFileMappingStor) GetFileMappingByUploadKey(uploadKey string) (*mcmodel.FileMapping, error) {
	var fm mcmodel.FileMapping
	if err := s.db.Where("upload_key = ?", uploadKey).First(&fm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileMappingNotFound
		}
		return nil, err
	}

	return &fm, nil
}

// UpdateFileMapping writes every mutable column of fm, including zero values
// such as an empty column list or HasHeader=false.
func (s *GormFileMappingStor) UpdateFileMapping(fm *mcmodel.FileMapping) (int64, error) {
	var count int64
	fm.UpdatedAt = time.Now()
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Model(&mcmodel.FileMapping{ID: fm.ID}).
			Select("conn_id", "upload_key", "name", "path", "size", "file_setting", "last_access_time", "updated_at").
			Updates(fm)
		count = result.RowsAffected
		return result.Error
	})

	return count, err
}

func (s *GormFileMappingStor) DeleteFileMapping(id int) (int64, error) {
	var count int64
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Delete(&mcmodel.FileMapping{}, id)
		count = result.RowsAffected
		return result.Error
	})

	return count, err
}

func (s *GormFileMappingStor) ListFileMappings(connID, page, pageSize int) (*mcmodel.FileMappingPage, error) {
	page, pageSize = normalizePage(page, pageSize)
	result := &mcmodel.FileMappingPage{Page: page, PageSize: pageSize}

	forConn := func() *gorm.DB {
		return s.db.Model(&mcmodel.FileMapping{}).Where("conn_id = ?", connID)
	}

	if err := forConn().Count(&result.Total).Error; err != nil {
		return nil, err
	}

	err := forConn().Order("name desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&result.Records).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *GormFileMappingStor) ListAllFileMappings() ([]mcmodel.FileMapping, error) {
	var all []mcmodel.FileMapping
	if err := s.db.Order("id").Find(&all).Error; err != nil {
		return nil, err
	}

	return all, nil
}
