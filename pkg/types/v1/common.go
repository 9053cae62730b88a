package v1

import (
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Runner executes external commands. Kept as an interface so stages can be
// exercised in tests without touching the host.
type Runner interface {
	InitCmd(command string, args ...string) *exec.Cmd
	Run(command string, args ...string) ([]byte, error)
	RunCmd(cmd *exec.Cmd) ([]byte, error)
	GetLogger() *Logger
	SetLogger(logger *Logger)
}

type RealRunner struct {
	Logger *Logger
}

func (r RealRunner) InitCmd(command string, args ...string) *exec.Cmd {
	return exec.Command(command, args...)
}

func (r RealRunner) RunCmd(cmd *exec.Cmd) ([]byte, error) {
	return cmd.CombinedOutput()
}

func (r RealRunner) Run(command string, args ...string) ([]byte, error) {
	cmd := r.InitCmd(command, args...)
	if r.Logger != nil {
		r.Logger.Debugf("Running cmd: '%s %s'", command, strings.Join(args, " "))
	}
	return r.RunCmd(cmd)
}

func (r *RealRunner) GetLogger() *Logger {
	return r.Logger
}

func (r *RealRunner) SetLogger(logger *Logger) {
	r.Logger = logger
}

var _ Runner = (*RealRunner)(nil)

// SyscallInterface wraps the raw syscalls the loop device setup needs so they
// can be faked in tests.
type SyscallInterface interface {
	Chroot(path string) error
	Chdir(path string) error
	Syscall(trap uintptr, a1 uintptr, a2 uintptr, a3 uintptr) (r1 uintptr, r2 uintptr, err error)
}

type RealSyscall struct{}

func (r *RealSyscall) Chroot(path string) error {
	return syscall.Chroot(path)
}

func (r *RealSyscall) Chdir(path string) error {
	return syscall.Chdir(path)
}

func (r *RealSyscall) Syscall(trap uintptr, a1 uintptr, a2 uintptr, a3 uintptr) (uintptr, uintptr, error) {
	return syscall.Syscall(trap, a1, a2, a3)
}

var _ SyscallInterface = (*RealSyscall)(nil)

// FS is the subset of twpayne/go-vfs the codebase relies on. Production code
// gets vfs.OSFS, tests get a vfst test filesystem.
type FS interface {
	Open(name string) (fs.File, error)
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	Chmod(name string, mode os.FileMode) error
	Create(name string) (*os.File, error)
	Glob(pattern string) ([]string, error)
	Mkdir(name string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Lstat(name string) (os.FileInfo, error)
	Remove(name string) error
	RemoveAll(path string) error
	ReadFile(filename string) ([]byte, error)
	Readlink(name string) (string, error)
	RawPath(name string) (string, error)
	ReadDir(dirname string) ([]fs.DirEntry, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	Rename(oldpath, newpath string) error
	Truncate(name string, size int64) error
}
