package device

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/seedforge-io/seedforge/pkg/config"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/seedforge-io/seedforge/pkg/utils/partitions"
)

// devicePattern matches whole-disk device nodes only. Partition nodes
// (/dev/sda1) and anything outside /dev are rejected outright.
var devicePattern = regexp.MustCompile(`^/dev/(sd[a-z]+|vd[a-z]+|nvme[0-9]+n[0-9]+|mmcblk[0-9]+)$`)

// Prober resolves a device path into a probed BlockDevice. Overridable in
// tests where no real block layer exists.
type Prober func(device string) (*v1.BlockDevice, error)

// Validator performs the read-only checks that gate the pipeline. It never
// mutates the device.
type Validator struct {
	cfg   *config.Config
	probe Prober
}

type ValidatorOption func(v *Validator)

func WithProber(p Prober) ValidatorOption {
	return func(v *Validator) {
		v.probe = p
	}
}

func NewValidator(cfg *config.Config, opts ...ValidatorOption) *Validator {
	v := &Validator{cfg: cfg, probe: partitions.GetDisk}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate checks naming convention, existence, exclusion rules and minimum
// capacity for the given device path. Returns the probed device on success.
func (v *Validator) Validate(path string, minSize uint64) (*v1.BlockDevice, error) {
	if !devicePattern.MatchString(path) {
		return nil, fmt.Errorf("%w: %q is not a whole-disk device node", v1.ErrInvalidDevicePath, path)
	}

	fi, err := v.cfg.Fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", v1.ErrDeviceNotFound, path)
		}
		return nil, err
	}
	if fi.IsDir() || fi.Mode()&os.ModeCharDevice != 0 {
		return nil, fmt.Errorf("%w: %s is not a block special file", v1.ErrInvalidDevicePath, path)
	}

	dev, err := v.probe(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", v1.ErrDeviceNotFound, err.Error())
	}

	if dev.SystemDisk {
		return nil, fmt.Errorf("%w: %s holds the running system", v1.ErrDeviceExcluded, path)
	}

	if dev.SizeBytes < minSize {
		return nil, fmt.Errorf("%w: %s has %d bytes, need at least %d",
			v1.ErrDeviceTooSmall, path, dev.SizeBytes, minSize)
	}

	v.cfg.Logger.Infof("Validated device %s (%s, %d bytes)", path, dev.Model, dev.SizeBytes)
	return dev, nil
}
