package provisioner

import (
	"fmt"
	"path/filepath"

	"github.com/mudler/yip/pkg/schema"
	"github.com/seedforge-io/seedforge/pkg/config"
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
	"gopkg.in/yaml.v3"
)

const grubCfgTemplate = `set timeout=5
set default=0

menuentry "Install %s" {
    linux /%s %s ---
    initrd /%s
}

menuentry "Install %s (safe graphics)" {
    linux /%s %s nomodeset ---
    initrd /%s
}
`

const firstBootScript = `#!/bin/sh
# Joins the enrollment network on first boot using the credential bundle
# from the secrets volume. Bounded retries with a fixed delay, failure after
# the last attempt is terminal.
set -u

. /run/seedforge/secrets/credentials/seedforge.env

attempts=%d
delay=%d
n=0
while [ "$n" -lt "$attempts" ]; do
    if tailscale up --authkey "$NODE_ENROLL_KEY" --hostname "$NODE_HOSTNAME_PREFIX-$(cat /etc/machine-id | cut -c1-8)"; then
        exit 0
    fi
    n=$((n + 1))
    sleep "$delay"
done
echo "enrollment failed after $attempts attempts" >&2
exit 1
`

// InstallBoot installs the bootloader on the EFI partition using the
// removable-media path and writes the boot menu plus the first-boot
// automation artifacts onto the payload partition. A failed bootloader
// install is fatal, media without a working bootloader is not a success.
func (p Provisioner) InstallBoot(efiRoot, payloadRoot string) error {
	p.config.Logger.Infof("Installing bootloader on %s", p.spec.Device)

	rawEfi, err := p.config.Fs.RawPath(efiRoot)
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrBootInstallFailed, err)
	}
	rawBoot, err := p.config.Fs.RawPath(filepath.Join(payloadRoot, "boot"))
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrBootInstallFailed, err)
	}

	out, err := p.config.Runner.Run("grub-install",
		"--target=x86_64-efi",
		fmt.Sprintf("--efi-directory=%s", rawEfi),
		fmt.Sprintf("--boot-directory=%s", rawBoot),
		"--removable",
		"--no-nvram",
		p.spec.Device,
	)
	if err != nil {
		p.config.Logger.Errorf("grub-install failed: %s", string(out))
		return fmt.Errorf("%w: %s", v1.ErrBootInstallFailed, err)
	}

	err = p.writeGrubCfg(payloadRoot)
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrBootInstallFailed, err)
	}

	err = p.writeFirstBootArtifacts(payloadRoot)
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrBootInstallFailed, err)
	}
	return nil
}

func (p Provisioner) writeGrubCfg(payloadRoot string) error {
	title := "Ubuntu Server"
	bootArgs := "boot=casper autoinstall quiet"
	if p.spec.Profile == config.DesktopProfile {
		title = "Ubuntu Desktop"
		bootArgs = "boot=casper persistent quiet splash"
	}

	cfg := fmt.Sprintf(grubCfgTemplate,
		title, cnst.KernelFile, bootArgs, cnst.InitrdFile,
		title, cnst.KernelFile, bootArgs, cnst.InitrdFile,
	)

	target := filepath.Join(payloadRoot, cnst.GrubCfgPath)
	err := fsutils.MkdirAll(p.config.Fs, filepath.Dir(target), cnst.DirPerm)
	if err != nil {
		return err
	}
	return p.config.Fs.WriteFile(target, []byte(cfg), cnst.FilePerm)
}

func (p Provisioner) writeFirstBootArtifacts(payloadRoot string) error {
	err := fsutils.MkdirAll(p.config.Fs, filepath.Join(payloadRoot, cnst.FirstBootDir), cnst.DirPerm)
	if err != nil {
		return err
	}

	script := fmt.Sprintf(firstBootScript, cnst.EnrollAttempts, int(cnst.EnrollDelay.Seconds()))
	err = p.config.Fs.WriteFile(filepath.Join(payloadRoot, cnst.FirstBootUnit), []byte(script), cnst.ScriptPerm)
	if err != nil {
		return err
	}

	seed, err := yaml.Marshal(p.firstBootConfig())
	if err != nil {
		return err
	}
	err = p.config.Fs.WriteFile(filepath.Join(payloadRoot, cnst.CloudInitSeed), seed, cnst.FilePerm)
	if err != nil {
		return err
	}

	network, err := yaml.Marshal(p.networkConfig())
	if err != nil {
		return err
	}
	return p.config.Fs.WriteFile(filepath.Join(payloadRoot, cnst.NetworkFragYml), network, cnst.FilePerm)
}

// networkConfig brings every wired interface up with DHCP before the
// enrollment stage runs.
func (p Provisioner) networkConfig() schema.YipConfig {
	return schema.YipConfig{
		Name: "seedforge network",
		Stages: map[string][]schema.Stage{
			"network": {
				{
					Name: "dhcp",
					Commands: []string{
						"for iface in $(ls /sys/class/net | grep -v lo); do dhclient -nw $iface || true; done",
					},
				},
			},
		},
	}
}

// firstBootConfig builds the cloud-init fragment the installed system runs
// on its first boot: mounts the secrets volume, applies the hostname prefix
// and triggers the enrollment script.
func (p Provisioner) firstBootConfig() schema.YipConfig {
	return schema.YipConfig{
		Name: "seedforge first boot",
		Stages: map[string][]schema.Stage{
			"boot": {
				{
					Name: "enrollment",
					Files: []schema.File{
						{
							Path:        "/etc/seedforge/hostname-prefix",
							Content:     p.spec.HostnamePrefix,
							Permissions: 0644,
						},
					},
					Commands: []string{
						fmt.Sprintf("sh /cdrom/%s", cnst.FirstBootUnit),
					},
				},
			},
		},
	}
}
