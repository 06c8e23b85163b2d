package loaderr

import (
	"fmt"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageCarriesContext(t *testing.T) {
	err := IO("merge", "abc-123", "/data/abc-123.all", errors.New("disk full"))
	assert.Equal(t, "merge: io failure (upload abc-123) '/data/abc-123.all': disk full", err.Error())

	err = Missing("sniff", "", "/data/missing.csv")
	assert.Equal(t, "sniff: not found '/data/missing.csv'", err.Error())
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := Missing("sniff", "", "/tmp/x")
	wrapped := fmt.Errorf("extract columns for file 7: %w", base)

	require.True(t, Is(wrapped, NotFound))
	require.False(t, Is(wrapped, IOFailure))
	require.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestUnwrapReachesCause(t *testing.T) {
	err := IO("append", "k", "/tmp/k.parts/0", errors.Wrapf(os.ErrPermission, "create part %d", 0))
	assert.ErrorIs(t, err, os.ErrPermission)
}
