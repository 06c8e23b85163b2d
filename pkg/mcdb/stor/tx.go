package stor

import (
	"github.com/materials-commons/mcload/pkg/mcdb/config"
	"gorm.io/gorm"
)

// WithTxRetry runs fn in a transaction, retrying the whole transaction up to
// config.GetTxRetry() times. fn must be safe to run more than once.
func WithTxRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error

	for i := 0; i < config.GetTxRetry(); i++ {
		if err = db.Transaction(fn); err == nil {
			return nil
		}
	}

	return err
}
