package mcmodel

import (
	"time"
)

const DefaultDelimiter = ","

// FileSetting describes how a data file is split into columns, and holds the
// column names and one sample row found by the last sniff. ColumnNames and
// ColumnValues may differ in length when the header and first data row
// disagree; consumers treat positions past the shorter one as absent.
type FileSetting struct {
	Delimiter    string   `json:"delimiter"`
	HasHeader    bool     `json:"has_header"`
	ColumnNames  []string `json:"column_names"`
	ColumnValues []string `json:"column_values"`
}

func NewFileSetting() FileSetting {
	return FileSetting{
		Delimiter:    DefaultDelimiter,
		HasHeader:    true,
		ColumnNames:  []string{},
		ColumnValues: []string{},
	}
}

// ColumnValue returns the sample value for column i, and false when the
// sample row is shorter than i.
func (s FileSetting) ColumnValue(i int) (string, bool) {
	if i < 0 || i >= len(s.ColumnValues) {
		return "", false
	}

	return s.ColumnValues[i], true
}

// Column pairs a column name with its sample value. Value is nil when the
// sample row stops short of the column.
type Column struct {
	Name  string  `json:"name"`
	Value *string `json:"value"`
}

func (s FileSetting) Columns() []Column {
	columns := make([]Column, 0, len(s.ColumnNames))
	for i, name := range s.ColumnNames {
		column := Column{Name: name}
		if value, ok := s.ColumnValue(i); ok {
			column.Value = &value
		}
		columns = append(columns, column)
	}

	return columns
}

// FileMapping is the record for one reassembled upload. Path is the merged
// file on disk and is never sent to clients.
type FileMapping struct {
	ID             int         `json:"id"`
	ConnID         int         `json:"conn_id" gorm:"index"`
	UploadKey      string      `json:"upload_key" gorm:"index"`
	Name           string      `json:"name"`
	Path           string      `json:"-"`
	Size           int64       `json:"size"`
	FileSetting    FileSetting `json:"file_setting" gorm:"serializer:json;type:text"`
	LastAccessTime time.Time   `json:"last_access_time"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (FileMapping) TableName() string {
	return "file_mappings"
}

func NewFileMapping(connID int, name, path string, size int64) *FileMapping {
	return &FileMapping{
		ConnID:         connID,
		Name:           name,
		Path:           path,
		Size:           size,
		FileSetting:    NewFileSetting(),
		LastAccessTime: time.Now(),
	}
}

// FileMappingPage is one page of a connection's file mappings, ordered by name descending.
type FileMappingPage struct {
	Records  []FileMapping `json:"records"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}
