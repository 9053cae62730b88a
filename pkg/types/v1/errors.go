package v1

import "errors"

// Validation and precondition errors. These are raised before any destructive
// operation runs, there is never partial state behind them.
var (
	ErrInvalidDevicePath    = errors.New("invalid device path")
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDeviceExcluded       = errors.New("device is excluded from provisioning")
	ErrDeviceTooSmall       = errors.New("device is below the minimum capacity")
	ErrInvalidEnrollmentKey = errors.New("malformed enrollment key")
	ErrSourceNotFound       = errors.New("installer source not found")
	ErrSourceInvalid        = errors.New("installer source failed the format check")
)

// Stage errors. Any of these triggers a full reverse-order resource unwind
// before being propagated to the caller.
var (
	ErrDeviceNotWritable   = errors.New("device cannot be opened for writing")
	ErrPartitionNotCreated = errors.New("partition device node never appeared")
	ErrFormatFailed        = errors.New("filesystem format failed")
	ErrVolumeOpenFailed    = errors.New("encrypted volume open failed")
	ErrSecureFormatFailed  = errors.New("filesystem format on encrypted volume failed")
	ErrTransferFailed      = errors.New("payload transfer failed")
	ErrIntegrityMismatch   = errors.New("payload integrity verification failed")
	ErrCredentialWrite     = errors.New("credential write failed")
	ErrBootInstallFailed   = errors.New("bootloader installation failed")
)
