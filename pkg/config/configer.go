package config

import (
	"strconv"

	"github.com/apex/log"
)

type Configer interface {
	LoadFromPath(path string) error
	Load() error
	GetKey(key string) string
	MustGetKey(key string) string
	GetKeyWithDefault(key, defaultValue string) string
	GetIntKey(key string) int
	MustGetIntKey(key string) int
	GetIntKeyWithDefault(key string, defaultValue int) int
}

// keyReader derives the typed lookups from a single raw lookup so that each
// Configer only has to say where its values live.
type keyReader struct {
	lookup func(key string) string
}

func (r keyReader) GetKey(key string) string {
	return r.lookup(key)
}

func (r keyReader) MustGetKey(key string) string {
	val := r.lookup(key)
	if val == "" {
		log.Fatalf("No such required config key: '%s'", key)
	}

	return val
}

func (r keyReader) GetKeyWithDefault(key, defaultValue string) string {
	if val := r.lookup(key); val != "" {
		return val
	}

	return defaultValue
}

func (r keyReader) GetIntKey(key string) int {
	return r.GetIntKeyWithDefault(key, 0)
}

func (r keyReader) MustGetIntKey(key string) int {
	intVal, err := strconv.Atoi(r.lookup(key))
	if err != nil {
		log.Fatalf("Required config key either doesn't exist or isn't an int: '%s': %s", key, err)
	}

	return intVal
}

func (r keyReader) GetIntKeyWithDefault(key string, defaultValue int) int {
	intVal, err := strconv.Atoi(r.lookup(key))
	if err != nil {
		return defaultValue
	}

	return intVal
}
