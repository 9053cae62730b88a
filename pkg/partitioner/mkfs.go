package partitioner

import (
	"fmt"
	"regexp"

	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
)

// MkfsCall builds one mkfs invocation for a device, filesystem and label.
type MkfsCall struct {
	fileSystem string
	label      string
	customOpts []string
	dev        string
	runner     v1.Runner
}

func NewMkfsCall(dev string, fileSystem string, label string, runner v1.Runner, customOpts ...string) *MkfsCall {
	return &MkfsCall{
		fileSystem: fileSystem,
		label:      label,
		dev:        dev,
		runner:     runner,
		customOpts: customOpts,
	}
}

func (mkfs MkfsCall) buildOptions() ([]string, error) {
	opts := []string{}

	linuxFS, _ := regexp.MatchString("ext[2-4]|xfs", mkfs.fileSystem)
	fatFS, _ := regexp.MatchString("fat|vfat", mkfs.fileSystem)

	switch {
	case linuxFS:
		if mkfs.label != "" {
			opts = append(opts, "-L")
			opts = append(opts, mkfs.label)
		}
		if len(mkfs.customOpts) > 0 {
			opts = append(opts, mkfs.customOpts...)
		}
		opts = append(opts, mkfs.dev)
	case fatFS:
		if mkfs.label != "" {
			opts = append(opts, "-n")
			opts = append(opts, mkfs.label)
		}
		if len(mkfs.customOpts) > 0 {
			opts = append(opts, mkfs.customOpts...)
		}
		opts = append(opts, mkfs.dev)
	default:
		return []string{}, fmt.Errorf("unsupported filesystem: %s", mkfs.fileSystem)
	}
	return opts, nil
}

// Apply runs the mkfs tool matching the configured filesystem.
func (mkfs MkfsCall) Apply() (string, error) {
	opts, err := mkfs.buildOptions()
	if err != nil {
		return "", err
	}
	tool := fmt.Sprintf("mkfs.%s", mkfs.fileSystem)
	out, err := mkfs.runner.Run(tool, opts...)
	return string(out), err
}

// FormatDevice formats the given device with the given filesystem and label
func FormatDevice(logger v1.Logger, runner v1.Runner, device string, fileSystem string, label string, opts ...string) error {
	logger.Infof("Formatting '%s' with fs '%s' and label '%s'", device, fileSystem, label)
	mkfs := NewMkfsCall(device, fileSystem, label, runner, opts...)
	out, err := mkfs.Apply()
	if err != nil {
		logger.Errorf("Failed formatting %s: %s", device, out)
	}
	return err
}
