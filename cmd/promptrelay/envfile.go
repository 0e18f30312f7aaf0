package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// envFile loads a dotenv file into the process environment. Variables set
// before the first load win; variables the file contributed are replaced
// on every later load, and unset when they disappear from the file.
type envFile struct {
	path  string
	owned map[string]bool
}

func newEnvFile(path string) *envFile {
	return &envFile{path: path, owned: make(map[string]bool)}
}

// Load reads the file and applies it. A missing file is not an error.
func (e *envFile) Load() error {
	if e.path == "" {
		return nil
	}

	values, err := godotenv.Read(e.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	for key := range e.owned {
		if _, ok := values[key]; !ok {
			_ = os.Unsetenv(key)
			delete(e.owned, key)
		}
	}

	for key, value := range values {
		if _, set := os.LookupEnv(key); set && !e.owned[key] {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
		e.owned[key] = true
	}

	return nil
}
