// Package clog configures apex/log for the mcload services and hands out
// entries pre-tagged with the component or upload they belong to.
package clog

import (
	"io"
	"os"

	"github.com/apex/log"
)

var handler = NewHandler(os.Stdout)

func init() {
	log.SetHandler(handler)
}

// Setup points the global logger at w and sets its level from a string such
// as "debug" or "warn". An empty level leaves the current level alone.
func Setup(w io.Writer, level string) error {
	handler.SetOutput(w)

	if level == "" {
		return nil
	}

	l, err := log.ParseLevel(level)
	if err != nil {
		return err
	}

	log.SetLevel(l)
	return nil
}

func UsingCtx(component string) *log.Entry {
	return log.WithField("ctx", component)
}

// ForUpload returns an entry tagged with the upload key so every line about
// one upload can be grepped together.
func ForUpload(component, uploadKey string) *log.Entry {
	return log.WithFields(log.Fields{
		"ctx":        component,
		"upload_key": uploadKey,
	})
}
