package mocks

import (
	"errors"
)

// FakeSyscall tracks calls to the syscall interface. Raw syscalls answer
// with SideEffectSyscall when set, or succeed with ReturnValue.
type FakeSyscall struct {
	chrootHistory     []string
	ErrorOnChroot     bool
	ReturnValue       uintptr
	SideEffectSyscall func(trap uintptr, a1 uintptr, a2 uintptr, a3 uintptr) (uintptr, uintptr, error)
}

func (f *FakeSyscall) Chroot(path string) error {
	f.chrootHistory = append(f.chrootHistory, path)
	if f.ErrorOnChroot {
		return errors.New("chroot error")
	}
	return nil
}

func (f *FakeSyscall) Chdir(path string) error {
	return nil
}

// WasChrootCalledWith reports whether Chroot was called with the given path.
func (f *FakeSyscall) WasChrootCalledWith(path string) bool {
	for _, c := range f.chrootHistory {
		if c == path {
			return true
		}
	}
	return false
}

func (f *FakeSyscall) Syscall(trap uintptr, a1 uintptr, a2 uintptr, a3 uintptr) (uintptr, uintptr, error) {
	if f.SideEffectSyscall != nil {
		return f.SideEffectSyscall(trap, a1, a2, a3)
	}
	return f.ReturnValue, 0, nil
}
