package config

import (
	"fmt"
	"os"
	"time"
)

const (
	KeyDotenvPath          = "MCLOAD_DOTENV_PATH"
	KeyStagingDir          = "MCLOAD_STAGING_DIR"
	KeyFilesDir            = "MCLOAD_FILES_DIR"
	KeyPort                = "MCLOAD_PORT"
	KeyDBDriver            = "MCLOAD_DB_DRIVER"
	KeySqliteDSN           = "MCLOAD_SQLITE_DSN"
	KeyMergeTimeoutSeconds = "MCLOAD_MERGE_TIMEOUT_SECONDS"
	KeyMaxChunkBytes       = "MCLOAD_MAX_CHUNK_BYTES"
	KeyDefaultDelimiter    = "MCLOAD_DEFAULT_DELIMITER"
	KeyLogLevel            = "MCLOAD_LOG_LEVEL"
)

const (
	DBDriverMySQL  = "mysql"
	DBDriverSqlite = "sqlite"
)

// Settings is the typed view of the configuration used by the services.
type Settings struct {
	StagingDir       string
	FilesDir         string
	Port             int
	DBDriver         string
	SqliteDSN        string
	MergeTimeout     time.Duration
	MaxChunkBytes    int64
	DefaultDelimiter string
	LogLevel         string
}

func LoadSettings(c Configer) (*Settings, error) {
	s := &Settings{
		StagingDir:       c.GetKey(KeyStagingDir),
		FilesDir:         c.GetKey(KeyFilesDir),
		Port:             c.GetIntKeyWithDefault(KeyPort, 1360),
		DBDriver:         c.GetKeyWithDefault(KeyDBDriver, DBDriverMySQL),
		SqliteDSN:        c.GetKeyWithDefault(KeySqliteDSN, "file::memory:?cache=shared"),
		MergeTimeout:     time.Duration(c.GetIntKeyWithDefault(KeyMergeTimeoutSeconds, 300)) * time.Second,
		MaxChunkBytes:    int64(c.GetIntKeyWithDefault(KeyMaxChunkBytes, 64*1024*1024)),
		DefaultDelimiter: c.GetKeyWithDefault(KeyDefaultDelimiter, ","),
		LogLevel:         c.GetKeyWithDefault(KeyLogLevel, "info"),
	}

	if s.StagingDir == "" {
		return nil, fmt.Errorf("%s is not set", KeyStagingDir)
	}

	if s.FilesDir == "" {
		return nil, fmt.Errorf("%s is not set", KeyFilesDir)
	}

	switch s.DBDriver {
	case DBDriverMySQL, DBDriverSqlite:
	default:
		return nil, fmt.Errorf("unknown %s '%s'", KeyDBDriver, s.DBDriver)
	}

	if s.MergeTimeout <= 0 {
		return nil, fmt.Errorf("%s must be positive", KeyMergeTimeoutSeconds)
	}

	return s, nil
}

// EnsureDirs creates the staging and files directories if they are missing.
func (s *Settings) EnsureDirs() error {
	for _, dir := range []string{s.StagingDir, s.FilesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("unable to create %s: %w", dir, err)
		}
	}

	return nil
}
