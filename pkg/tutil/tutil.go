// Package tutil holds helpers shared by tests.
package tutil

import (
	"os"
	"strings"
	"testing"
)

// IsIntegrationTest reports whether MCLOAD_TEST is set to "integration".
// Integration tests talk to the mysql server described by the DB_* variables.
func IsIntegrationTest() bool {
	return strings.ToLower(os.Getenv("MCLOAD_TEST")) == "integration"
}

func SkipUnlessIntegration(t *testing.T) {
	t.Helper()
	if !IsIntegrationTest() {
		t.Skip("set MCLOAD_TEST=integration to run against mysql")
	}
}
