package utils

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
	"github.com/seedforge-io/seedforge/pkg/utils/partitions"
	"k8s.io/mount-utils"
)

func CommandExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

// FindCommand returns the first available command from the given options,
// falling back to defaultPath. Useful for binaries with different names
// across distributions.
func FindCommand(defaultPath string, options []string) string {
	for _, p := range options {
		path, err := exec.LookPath(p)
		if err == nil {
			return path
		}
	}
	return defaultPath
}

// Retry runs op up to attempts times with a fixed delay between attempts.
// No backoff, no jitter. Returns the last error once the attempts are
// exhausted.
func Retry(attempts int, delay time.Duration, op func() error) (err error) {
	for tries := 0; tries < attempts; tries++ {
		err = op()
		if err == nil {
			return nil
		}
		if tries < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}

// GetDeviceByLabel will try to return the device path matching the given
// filesystem label. attempts sets the number of probes, a fixed delay apart.
func GetDeviceByLabel(runner v1.Runner, label string, attempts int) (string, error) {
	part, err := GetFullDeviceByLabel(runner, label, attempts)
	if err != nil {
		return "", err
	}
	return part.Path, nil
}

// GetFullDeviceByLabel works like GetDeviceByLabel but returns the full
// v1.Partition with whatever information the probe recovered.
func GetFullDeviceByLabel(runner v1.Runner, label string, attempts int) (*v1.Partition, error) {
	for tries := 0; tries < attempts; tries++ {
		_, _ = runner.Run("udevadm", "settle")
		parts, err := partitions.GetAllPartitions()
		if err != nil {
			return nil, err
		}
		part := parts.GetByLabel(label)
		if part != nil {
			return part, nil
		}
		time.Sleep(cnst.PartNodeDelay)
	}
	return nil, errors.New("no device found")
}

// CopyFile copies source file to target file using the Fs interface. If
// target is a directory the source is copied into it keeping its name.
func CopyFile(fs v1.FS, source string, target string) (err error) {
	return ConcatFiles(fs, []string{source}, target)
}

// ConcatFiles concatenates the given source files into target in order.
func ConcatFiles(fs v1.FS, sources []string, target string) (err error) {
	if len(sources) == 0 {
		return fmt.Errorf("empty sources list")
	}
	if dir, _ := fsutils.IsDir(fs, target); dir {
		target = filepath.Join(target, filepath.Base(sources[0]))
	}

	targetFile, err := fs.Create(target)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = targetFile.Close()
		} else {
			_ = fs.Remove(target)
		}
	}()

	for _, source := range sources {
		sourceFile, err := fs.Open(source)
		if err != nil {
			return err
		}
		_, err = io.Copy(targetFile, sourceFile)
		if err != nil {
			_ = sourceFile.Close()
			return err
		}
		err = sourceFile.Close()
		if err != nil {
			return err
		}
	}

	return err
}

// FileSize returns the size in bytes of the given file.
func FileSize(fs v1.FS, path string) (int64, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// SyncData rsync's source folder contents to a target folder, both are
// expected to exist beforehand. Attributes are preserved.
func SyncData(log v1.Logger, runner v1.Runner, fs v1.FS, source string, target string, excludes ...string) error {
	if fs != nil {
		if s, err := fs.RawPath(source); err == nil {
			source = s
		}
		if t, err := fs.RawPath(target); err == nil {
			target = t
		}
	}

	if !strings.HasSuffix(source, "/") {
		source = fmt.Sprintf("%s/", source)
	}
	if !strings.HasSuffix(target, "/") {
		target = fmt.Sprintf("%s/", target)
	}

	log.Infof("Starting rsync...")
	args := []string{"--progress", "--partial", "--human-readable", "--archive", "--xattrs", "--acls"}
	for _, e := range excludes {
		args = append(args, fmt.Sprintf("--exclude=%s", e))
	}
	args = append(args, source, target)

	done := displayProgress(log, 5*time.Second, "Syncing data...")
	out, err := runner.Run(cnst.Rsync, args...)
	close(done)
	if err != nil {
		log.Errorf("rsync finished with errors: %s, %s", err.Error(), string(out))
		return err
	}
	log.Info("Finished syncing")
	return nil
}

func displayProgress(log v1.Logger, tick time.Duration, message string) chan bool {
	ticker := time.NewTicker(tick)
	done := make(chan bool)

	go func() {
		for {
			select {
			case <-done:
				ticker.Stop()
				return
			case <-ticker.C:
				log.Debug(message)
			}
		}
	}()

	return done
}

// LoadEnvFile parses the given file and returns a map with the key/values
func LoadEnvFile(fs v1.FS, file string) (map[string]string, error) {
	var envMap map[string]string

	f, err := fs.Open(file)
	if err != nil {
		return envMap, err
	}
	defer f.Close()

	envMap, err = godotenv.Parse(f)
	if err != nil {
		return envMap, err
	}
	return envMap, err
}

// WriteEnvFile atomically writes the given key/values as an env style file.
// The content lands in a temp file next to the target which is then renamed
// over it, and the final mode is applied before the rename.
func WriteEnvFile(fs v1.FS, envs map[string]string, file string, perm os.FileMode) error {
	content, err := godotenv.Marshal(envs)
	if err != nil {
		return err
	}
	tmp := file + ".tmp"
	err = fs.WriteFile(tmp, []byte(content+"\n"), perm)
	if err != nil {
		return err
	}
	err = fs.Chmod(tmp, perm)
	if err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	err = fs.Rename(tmp, file)
	if err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}

// IsMounted checks if the given partition's mountpoint is currently mounted.
func IsMounted(mounter mount.Interface, part *v1.Partition) (bool, error) {
	if part == nil {
		return false, fmt.Errorf("nil partition")
	}
	if part.MountPoint == "" {
		return false, nil
	}
	// IsLikelyNotMountPoint is enough here, no bind mounts involved
	notMnt, err := mounter.IsLikelyNotMountPoint(part.MountPoint)
	if err != nil {
		return false, err
	}
	return !notMnt, nil
}

// CalcFileChecksum opens the given file and returns its sha256 checksum.
func CalcFileChecksum(fs v1.FS, fileName string) (string, error) {
	f, err := fs.Open(fileName)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// FindFileWithPrefix looks for a file in the given path matching one of the
// given prefixes, following symlinks within the same filesystem. It does not
// recurse into subfolders.
func FindFileWithPrefix(fs v1.FS, path string, prefixes ...string) (string, error) {
	files, err := fs.ReadDir(path)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		for _, p := range prefixes {
			if strings.HasPrefix(f.Name(), p) {
				info, _ := f.Info()
				if info != nil && info.Mode()&os.ModeSymlink == os.ModeSymlink {
					found, err := fs.Readlink(filepath.Join(path, f.Name()))
					if err == nil {
						if !filepath.IsAbs(found) {
							found = filepath.Join(path, found)
						}
						if exists, _ := fsutils.Exists(fs, found); exists {
							return found, nil
						}
					}
				} else {
					return filepath.Join(path, f.Name()), nil
				}
			}
		}
	}
	return "", fmt.Errorf("no file found with prefixes: %v", prefixes)
}
