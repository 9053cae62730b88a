package mocks

import (
	"errors"

	"k8s.io/mount-utils"
)

// ErrorMounter is a FakeMounter that can be told to fail on mount or
// unmount.
type ErrorMounter struct {
	*mount.FakeMounter
	ErrorOnMount   bool
	ErrorOnUnmount bool
}

func NewErrorMounter() *ErrorMounter {
	return &ErrorMounter{FakeMounter: &mount.FakeMounter{}}
}

func (e *ErrorMounter) Mount(source string, target string, fstype string, options []string) error {
	if e.ErrorOnMount {
		return errors.New("mount error")
	}
	return e.FakeMounter.Mount(source, target, fstype, options)
}

func (e *ErrorMounter) Unmount(target string) error {
	if e.ErrorOnUnmount {
		return errors.New("unmount error")
	}
	return e.FakeMounter.Unmount(target)
}

// IsLikelyNotMountPoint answers from the fake mount table instead of the
// host filesystem.
func (e *ErrorMounter) IsLikelyNotMountPoint(file string) (bool, error) {
	mnts, _ := e.List()
	for _, mnt := range mnts {
		if file == mnt.Path {
			return false, nil
		}
	}
	return true, nil
}
