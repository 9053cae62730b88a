package provisioner

import (
	"fmt"
	"syscall"

	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	"github.com/seedforge-io/seedforge/pkg/luks"
	"github.com/seedforge-io/seedforge/pkg/partitioner"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
)

// Encrypt initializes the secrets partition as an encrypted volume, opens it
// under the session's mapped name and formats the cleartext filesystem on
// top. On success the mapping is left open for the credential stage, it is
// the caller's job to push the close onto its cleanup stack.
//
// If the header write succeeds but the open fails, the header is left as
// device state. A later reset pass deals with it, tearing it down here would
// hide the failure mode from the operator.
func (p Provisioner) Encrypt(passphrase string) error {
	part := p.spec.SecretsPartition()
	if part == nil || part.Path == "" {
		return fmt.Errorf("%w: no secrets partition realized", v1.ErrVolumeOpenFailed)
	}

	crypt := luks.NewDevice(p.config)

	err := crypt.Format(part.Path, passphrase)
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrVolumeOpenFailed, err)
	}

	mapped := p.spec.MappedName()
	err = crypt.Open(part.Path, mapped, passphrase)
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrVolumeOpenFailed, err)
	}

	err = partitioner.FormatDevice(p.config.Logger, p.config.Runner,
		p.spec.MappedPath(), cnst.LinuxFs, part.FilesystemLabel)
	if err != nil {
		// never leave the mapping open behind a failure
		if closeErr := crypt.Close(mapped); closeErr != nil {
			p.config.Logger.Errorf("Failed closing %s after format failure: %s", mapped, closeErr)
		}
		return fmt.Errorf("%w: %s", v1.ErrSecureFormatFailed, err)
	}
	syscall.Sync()

	p.config.Logger.Infof("Encrypted volume ready on %s", p.spec.MappedPath())
	return nil
}

// CloseSecrets closes the session's secrets mapping if it is open.
func (p Provisioner) CloseSecrets() error {
	crypt := luks.NewDevice(p.config)
	if !crypt.MappingExists(p.spec.MappedName()) {
		return nil
	}
	return crypt.Close(p.spec.MappedName())
}
