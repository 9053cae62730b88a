package provisioner

import (
	"fmt"
	"path/filepath"

	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/seedforge-io/seedforge/pkg/utils"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
	"golang.org/x/crypto/bcrypt"
)

// WriteCredentials places the credential bundle inside the mounted secrets
// volume. The password is transformed through a one-way salted hash before
// it is serialized, the cleartext never reaches the disk. The file ends up
// owner read/write only.
func (p Provisioner) WriteCredentials(secretsRoot string) error {
	// never write to the host filesystem, the bundle belongs inside the
	// encrypted volume
	notMnt, err := p.config.Mounter.IsLikelyNotMountPoint(secretsRoot)
	if err != nil || notMnt {
		return fmt.Errorf("%w: secrets volume is not mounted at %s", v1.ErrCredentialWrite, secretsRoot)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.spec.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("%w: hashing password: %s", v1.ErrCredentialWrite, err)
	}

	dir := filepath.Join(secretsRoot, cnst.CredentialsDirName)
	err = fsutils.MkdirAll(p.config.Fs, dir, cnst.DirPerm)
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrCredentialWrite, err)
	}

	envs := map[string]string{
		cnst.EnrollKeyVar:      p.spec.EnrollKey,
		cnst.UsernameVar:       p.spec.Username,
		cnst.PasswordHashVar:   string(hash),
		cnst.HostnamePrefixVar: p.spec.HostnamePrefix,
	}

	file := filepath.Join(dir, cnst.CredentialsFileName)
	err = utils.WriteEnvFile(p.config.Fs, envs, file, cnst.SecretsPerm)
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrCredentialWrite, err)
	}

	p.config.Logger.Infof("Credential bundle written to %s", file)
	return nil
}
