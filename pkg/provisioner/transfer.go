package provisioner

import (
	"fmt"
	"path/filepath"

	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/seedforge-io/seedforge/pkg/utils"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
)

// Transfer copies the installer payload from the mounted source tree into
// the mounted payload partition. The primary copy is a recursive
// attribute-preserving sync. Integrity-critical files are size-verified
// afterwards and retried through a block-level copy before the stage fails.
func (p Provisioner) Transfer(sourceDir, targetDir string) error {
	p.config.Logger.Infof("Transferring installer payload to %s", targetDir)

	err := utils.SyncData(p.config.Logger, p.config.Runner, p.config.Fs, sourceDir, targetDir)
	if err != nil {
		p.config.Logger.Warnf("Primary payload copy failed: %s", err)
		// fall through, the per-file fallback below gets a second chance at
		// the files that actually matter
	}

	for _, rel := range cnst.IntegrityCriticalFiles() {
		verifyErr := p.verifyOrRecover(filepath.Join(sourceDir, rel), filepath.Join(targetDir, rel))
		if verifyErr != nil {
			return verifyErr
		}
	}
	if err != nil {
		// primary copy failed and the critical files recovered, anything else
		// that went missing is still a transfer failure
		return fmt.Errorf("%w: %s", v1.ErrTransferFailed, err)
	}

	return p.checkBootArtifacts(targetDir)
}

// verifyOrRecover compares source and destination sizes for one
// integrity-critical file and attempts a block-level recopy on mismatch.
func (p Provisioner) verifyOrRecover(source, target string) error {
	srcSize, err := utils.FileSize(p.config.Fs, source)
	if err != nil {
		// not present on the source image, nothing to verify
		p.config.Logger.Debugf("Skipping verification of absent source file %s", source)
		return nil
	}

	dstSize, err := utils.FileSize(p.config.Fs, target)
	if err == nil && dstSize == srcSize {
		return nil
	}
	p.config.Logger.Warnf("Size mismatch on %s (want %d, got %d), retrying with block copy",
		target, srcSize, dstSize)

	err = p.blockCopy(source, target)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", v1.ErrTransferFailed, target, err)
	}

	dstSize, err = utils.FileSize(p.config.Fs, target)
	if err != nil || dstSize != srcSize {
		return fmt.Errorf("%w: %s (want %d, got %d)", v1.ErrIntegrityMismatch, target, srcSize, dstSize)
	}
	return nil
}

func (p Provisioner) blockCopy(source, target string) error {
	err := fsutils.MkdirAll(p.config.Fs, filepath.Dir(target), cnst.DirPerm)
	if err != nil {
		return err
	}
	rawSource, err := p.config.Fs.RawPath(source)
	if err != nil {
		return err
	}
	rawTarget, err := p.config.Fs.RawPath(target)
	if err != nil {
		return err
	}
	_, err = p.config.Runner.Run("dd",
		fmt.Sprintf("if=%s", rawSource), fmt.Sprintf("of=%s", rawTarget),
		"bs=4M", "conv=fsync")
	return err
}

// checkBootArtifacts confirms at least one recognized kernel image and one
// initial ramdisk made it onto the destination. Absence is a warning, not an
// abort, unless the session demands them.
func (p Provisioner) checkBootArtifacts(targetDir string) error {
	casper := filepath.Join(targetDir, cnst.CasperDir)

	kernel, kErr := utils.FindFileWithPrefix(p.config.Fs, casper, cnst.KernelPrefixes()...)
	initrd, iErr := utils.FindFileWithPrefix(p.config.Fs, casper, cnst.InitrdPrefixes()...)
	if kErr == nil && iErr == nil {
		p.config.Logger.Debugf("Found boot artifacts %s and %s", kernel, initrd)
		return nil
	}

	if p.spec.RequireBootArtifacts {
		return fmt.Errorf("%w: no kernel or initial ramdisk found under %s", v1.ErrTransferFailed, casper)
	}
	p.config.Logger.Warnf("No kernel or initial ramdisk found under %s, the medium may not boot", casper)
	return nil
}
