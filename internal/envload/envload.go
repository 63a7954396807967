// Package envload preloads the nearest .env file into the process
// environment before configuration is read.
package envload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads the first .env found walking up from the working directory.
// Variables already set in the environment win. Only the first call does any
// work; test binaries skip loading unless GOTEST_LOAD_DOTENV=1.
func Ensure() (string, error) {
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return "", nil
	}
	loadOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			loadErr = err
			return
		}
		path, err := Find(wd)
		if err != nil || path == "" {
			loadErr = err
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = err
			return
		}
		loadedPath = path
	})
	return loadedPath, loadErr
}

// Find returns the first .env file in dir or one of its parents, or "" when
// there is none.
func Find(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}
