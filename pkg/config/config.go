package config

import (
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/twpayne/go-vfs/v5"
	"k8s.io/mount-utils"
)

// Config carries every collaborator the pipeline touches the host through.
// All of them are interfaces so stages can run against fakes in tests.
type Config struct {
	Logger  v1.Logger
	Fs      v1.FS
	Mounter mount.Interface
	Runner  v1.Runner
	Syscall v1.SyscallInterface
	Strict  bool
}

type GenericOptions func(c *Config)

func WithFs(fs v1.FS) func(c *Config) {
	return func(c *Config) {
		c.Fs = fs
	}
}

func WithLogger(logger v1.Logger) func(c *Config) {
	return func(c *Config) {
		c.Logger = logger
	}
}

func WithSyscall(syscall v1.SyscallInterface) func(c *Config) {
	return func(c *Config) {
		c.Syscall = syscall
	}
}

func WithMounter(mounter mount.Interface) func(c *Config) {
	return func(c *Config) {
		c.Mounter = mounter
	}
}

func WithRunner(runner v1.Runner) func(c *Config) {
	return func(c *Config) {
		c.Runner = runner
	}
}

func NewConfig(opts ...GenericOptions) *Config {
	log := v1.NewLogger()

	c := &Config{
		Fs:      vfs.OSFS,
		Logger:  log,
		Syscall: &v1.RealSyscall{},
	}
	for _, o := range opts {
		o(c)
	}

	// delay runner creation after we have run over the options in case we use
	// WithRunner
	if c.Runner == nil {
		c.Runner = &v1.RealRunner{Logger: &c.Logger}
	}

	// if the runner was provided without a logger, point ours into it
	if c.Runner.GetLogger() == nil {
		c.Runner.SetLogger(&c.Logger)
	}

	if c.Mounter == nil {
		c.Mounter = mount.New(cnst.MountBinary)
	}

	return c
}
