package mcdb

import (
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const SqliteInMemoryDSN = "file::memory:?cache=shared"

func MakeDSNFromEnv() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		os.Getenv("DB_USERNAME"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_DATABASE"))
}

const maxDBRetries = 5

var retryDelay = 3 * time.Second

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
}

// MustConnectToDB will attempt to connect to the mysql database maxDBRetries times. If it isn't
// successful after that number of retries then it will call log.Fatalf(), which will cause the
// server to exit. Between retry attempts it will sleep for 3 seconds.
func MustConnectToDB() *gorm.DB {
	retryCount := 1
	for {
		db, err := gorm.Open(mysql.Open(MakeDSNFromEnv()), gormConfig())
		switch {
		case err == nil:
			return db
		case retryCount >= maxDBRetries:
			log.Fatalf("Failed to open db (%s@%s): %s", os.Getenv("DB_DATABASE"), os.Getenv("DB_HOST"), err)
		default:
			log.Warnf("Connect to db failed (attempt %d of %d): %s", retryCount, maxDBRetries, err)
			retryCount++
			time.Sleep(retryDelay)
		}
	}
}

// OpenSqlite opens a sqlite database. It is used for local runs and tests, so
// the pool is limited to one connection to avoid sqlite table lock errors
// between goroutines.
func OpenSqlite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(&mcmodel.FileMapping{})
}
