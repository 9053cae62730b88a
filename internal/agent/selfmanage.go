package agent

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
)

const installPath = "/usr/local/bin/seedforge"

// Install copies the running binary into the system path.
func Install() error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return err
	}
	if self == installPath {
		pterm.Info.Printfln("Already installed at %s", installPath)
		return nil
	}

	src, err := os.Open(self)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(installPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, cnst.ScriptPerm)
	if err != nil {
		return fmt.Errorf("cannot write %s: %w", installPath, err)
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Installed to %s", installPath)
	return nil
}

// Uninstall removes the installed binary. The log file is kept, it may hold
// the history of past provisioning sessions.
func Uninstall() error {
	err := os.Remove(installPath)
	if os.IsNotExist(err) {
		pterm.Info.Printfln("Nothing installed at %s", installPath)
		return nil
	}
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Removed %s", installPath)
	return nil
}
