package fsutils

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/twpayne/go-vfs/v5"
)

// MkdirAll creates a directory named path along with any necessary parents.
func MkdirAll(fs v1.FS, path string, perm os.FileMode) error {
	return vfs.MkdirAll(fs, path, perm)
}

// Exists checks whether the given path exists on the filesystem.
func Exists(fs v1.FS, path string) (bool, error) {
	_, err := fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// IsDir reports whether path exists and is a directory.
func IsDir(fs v1.FS, path string) (bool, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func randomSuffix() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return strconv.Itoa(int(r.Uint32()))
}

// TempDir creates a unique temporary directory under dir (or the default temp
// location when dir is empty) and returns its path.
func TempDir(fs v1.FS, dir, prefix string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := MkdirAll(fs, dir, os.ModePerm|os.ModeDir); err != nil {
		return "", err
	}
	for i := 0; i < 100; i++ {
		name := filepath.Join(dir, fmt.Sprintf("%s%s", prefix, randomSuffix()))
		err := fs.Mkdir(name, 0700)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", errors.New("could not create temporary directory")
}

// TempFile creates a new temporary file under dir and returns the open file.
func TempFile(fs v1.FS, dir, prefix string) (*os.File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	for i := 0; i < 100; i++ {
		name := filepath.Join(dir, fmt.Sprintf("%s%s", prefix, randomSuffix()))
		f, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	return nil, errors.New("could not create temporary file")
}
