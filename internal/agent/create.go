package agent

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/sanity-io/litter"
	"github.com/seedforge-io/seedforge/pkg/action"
	"github.com/seedforge-io/seedforge/pkg/config"
	"github.com/seedforge-io/seedforge/pkg/enroll"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/seedforge-io/seedforge/pkg/utils/partitions"
	"github.com/spf13/viper"
)

const (
	_ = 1 << (10 * iota)
	KiB
	MiB
	GiB
)

// CreateOption tweaks the session before it runs.
type CreateOption func(spec *config.ProvisionSpec)

func WithChecksum(sum string) CreateOption {
	return func(spec *config.ProvisionSpec) {
		spec.SourceChecksum = sum
	}
}

func WithRequireKernel(require bool) CreateOption {
	return func(spec *config.ProvisionSpec) {
		spec.RequireBootArtifacts = require
	}
}

// Create collects any session parameters missing from the command line,
// gates the destructive work behind an explicit confirmation and runs the
// pipeline. Positional arguments that were given are taken as-is.
func Create(profile config.Profile, source, device, enrollKey, username, password string, opts ...CreateOption) error {
	cfg := config.NewConfig(config.WithLogger(sessionLogger()))

	var err error
	if source == "" {
		source, err = promptText("Path or URL of the installer image")
		if err != nil {
			return err
		}
	}
	if device == "" {
		device, err = promptDevice()
		if err != nil {
			return err
		}
	}
	if enrollKey == "" {
		enrollKey, err = promptEnrollKey()
		if err != nil {
			return err
		}
	}
	if username == "" {
		username, err = promptText("Username for the provisioned system")
		if err != nil {
			return err
		}
	}
	if password == "" {
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}

	spec := config.NewProvisionSpec(profile, device, source)
	spec.EnrollKey = enrollKey
	spec.Username = username
	spec.Password = password
	for _, o := range opts {
		o(spec)
	}

	err = spec.Sanitize()
	if err != nil {
		return err
	}

	if viper.GetBool("debug") {
		cfg.Logger.Debugf("Resolved session: %s", litter.Sdump(spec))
	}

	confirmed, err := confirmDevice(device)
	if err != nil {
		return err
	}
	if !confirmed {
		pterm.Info.Println("Aborted, device untouched.")
		return nil
	}

	return action.NewCreateAction(cfg, spec).Run()
}

func promptText(message string) (string, error) {
	return pterm.DefaultInteractiveTextInput.Show(message)
}

func promptEnrollKey() (string, error) {
	for {
		key, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Enrollment key")
		if err != nil {
			return "", err
		}
		if err := enroll.ValidateKey(key); err != nil {
			pterm.Error.Println("Malformed enrollment key, expected the ts prefix followed by 21 alphanumerics.")
			continue
		}
		return key, nil
	}
}

// promptPassword asks twice and loops until both entries match.
func promptPassword() (string, error) {
	for {
		password, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
		if err != nil {
			return "", err
		}
		confirm, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Confirm password")
		if err != nil {
			return "", err
		}
		if password == confirm && password != "" {
			return password, nil
		}
		pterm.Error.Println("Passwords do not match, try again.")
	}
}

// promptDevice lists candidate devices and asks for a device node. The
// usb/disk name filter is an operator convenience only, the real exclusion
// and capacity checks happen in the validator.
func promptDevice() (string, error) {
	disks, err := partitions.ListDisks()
	if err == nil && len(disks) > 0 {
		pterm.Info.Println("Available disks:")
		for _, d := range disks {
			name := strings.ToLower(d.Path + " " + d.Model)
			if !strings.Contains(name, "usb") && !strings.Contains(name, "disk") {
				continue
			}
			marker := ""
			if d.SystemDisk {
				marker = " (system disk)"
			}
			pterm.Info.Printfln("  %s  %s  %.1f GiB%s", d.Path, d.Model, float64(d.SizeBytes)/GiB, marker)
		}
	}
	return pterm.DefaultInteractiveTextInput.Show("Target device (e.g. /dev/sdb)")
}

// confirmDevice shows what is about to be destroyed and requires a literal
// yes. This is the only safe cancellation point, nothing destructive runs
// before it.
func confirmDevice(device string) (bool, error) {
	disk, err := partitions.GetDisk(device)
	if err != nil {
		return false, fmt.Errorf("%w: %s", v1.ErrDeviceNotFound, device)
	}
	pterm.Warning.Printfln("ALL DATA on %s will be destroyed:", device)
	pterm.Warning.Printfln("  size:   %.1f GiB", float64(disk.SizeBytes)/GiB)
	pterm.Warning.Printfln("  model:  %s", disk.Model)
	pterm.Warning.Printfln("  serial: %s", disk.Serial)

	answer, err := pterm.DefaultInteractiveTextInput.Show("Type 'yes' to continue")
	if err != nil {
		return false, err
	}
	return strings.ToLower(strings.TrimSpace(answer)) == "yes", nil
}
