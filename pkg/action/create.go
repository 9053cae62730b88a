package action

import (
	"fmt"
	"os"

	"github.com/seedforge-io/seedforge/pkg/config"
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	"github.com/seedforge-io/seedforge/pkg/device"
	"github.com/seedforge-io/seedforge/pkg/provisioner"
	"github.com/seedforge-io/seedforge/pkg/utils"
	"golang.org/x/sys/unix"
)

// CreateAction turns a raw removable device into a bootable installation
// medium with an encrypted secrets vault.
type CreateAction struct {
	cfg      *config.Config
	spec     *config.ProvisionSpec
	probeOpt []device.ValidatorOption
}

type CreateOpt func(a *CreateAction)

// WithProber overrides the block-layer probe used for device validation.
func WithProber(p device.Prober) CreateOpt {
	return func(a *CreateAction) {
		a.probeOpt = append(a.probeOpt, device.WithProber(p))
	}
}

func NewCreateAction(cfg *config.Config, spec *config.ProvisionSpec, opts ...CreateOpt) *CreateAction {
	a := &CreateAction{cfg: cfg, spec: spec}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run drives the full pipeline. Every acquired resource is pushed onto the
// cleanup stack at acquisition time and the stack is unwound in LIFO order
// on every exit path, success included. No code path leaves a dangling
// mount or an open mapping behind.
func (c CreateAction) Run() (err error) {
	p := provisioner.NewProvisioner(c.cfg, c.spec)
	cleanup := utils.NewCleanStack()
	defer func() { err = cleanup.Cleanup(err) }()

	// Validation and preconditions run before anything destructive, a
	// failure here leaves no partial state.
	err = c.spec.Sanitize()
	if err != nil {
		return err
	}

	target, err := device.NewValidator(c.cfg, c.probeOpt...).Validate(c.spec.Device, c.spec.MinDeviceSize())
	if err != nil {
		return err
	}
	c.spec.Target = target

	source, err := p.GetSource()
	if err != nil {
		return err
	}

	unlock, err := c.lockDevice()
	if err != nil {
		return err
	}
	cleanup.Push(unlock)

	if _, err = p.Reset(); err != nil {
		return err
	}

	if err = p.Layout(); err != nil {
		return err
	}

	if err = p.Encrypt(c.spec.Password); err != nil {
		return err
	}
	cleanup.Push(p.CloseSecrets)

	release, err := p.AttachSource(source)
	if err != nil {
		return err
	}
	cleanup.Push(release)

	payload := c.spec.PayloadPartition()
	if err = p.MountPartition(payload, "rw"); err != nil {
		return err
	}
	cleanup.Push(func() error { return p.UnmountPartition(payload) })

	if err = p.Transfer(cnst.IsoDir, payload.MountPoint); err != nil {
		return err
	}

	if err = p.MountDevice(c.spec.MappedPath(), cnst.SecretsDir, "rw"); err != nil {
		return err
	}
	cleanup.Push(func() error { return p.UnmountDevice(cnst.SecretsDir) })

	if err = p.WriteCredentials(cnst.SecretsDir); err != nil {
		return err
	}

	efi := c.spec.EfiPartition()
	if err = p.MountPartition(efi, "rw"); err != nil {
		return err
	}
	cleanup.Push(func() error { return p.UnmountPartition(efi) })

	if err = p.InstallBoot(efi.MountPoint, payload.MountPoint); err != nil {
		return err
	}

	c.cfg.Logger.Infof("Device %s provisioned, session %s", c.spec.Device, c.spec.SessionID)
	return nil
}

// lockDevice takes an advisory exclusive lock on the device for the session
// lifetime. The returned release runs in the same unwind path as the other
// resources, so it is the last thing let go.
func (c CreateAction) lockDevice() (func() error, error) {
	f, err := c.cfg.Fs.OpenFile(c.spec.Device, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s for locking: %w", c.spec.Device, err)
	}
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("device %s is in use by another process: %w", c.spec.Device, err)
	}
	return func() error {
		lockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
		closeErr := f.Close()
		if lockErr != nil {
			return lockErr
		}
		return closeErr
	}, nil
}
