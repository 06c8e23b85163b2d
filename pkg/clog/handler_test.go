package clog

import (
	"bytes"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerSortsFields(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf)
	h.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	logger := &log.Logger{Handler: h, Level: log.DebugLevel}
	logger.WithFields(log.Fields{"upload_key": "k1", "ctx": "merge"}).Info("merged")

	line := buf.String()
	assert.Contains(t, line, " INFO 2024-03-01 10:00:00 merged")
	assert.Regexp(t, `ctx=merge upload_key=k1\n$`, line)
}

func TestSetupRejectsBadLevel(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, Setup(&buf, "chatty"))
	require.NoError(t, Setup(&buf, "warn"))
	require.NoError(t, Setup(&buf, ""))
}

func TestForUploadTagsEntry(t *testing.T) {
	e := ForUpload("merge", "k9")
	assert.Equal(t, "merge", e.Fields["ctx"])
	assert.Equal(t, "k9", e.Fields["upload_key"])

	assert.Equal(t, "chunkstore", UsingCtx("chunkstore").Fields["ctx"])
}
