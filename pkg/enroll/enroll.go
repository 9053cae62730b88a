package enroll

import (
	"fmt"
	"regexp"
	"time"

	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
)

// keyPattern is the enrollment key contract: fixed "ts" prefix followed by
// exactly 21 alphanumeric characters. Anything else is rejected before any
// destructive operation runs.
var keyPattern = regexp.MustCompile(`^ts[a-zA-Z0-9]{21}$`)

// ValidateKey checks the enrollment key against the key contract.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", v1.ErrInvalidEnrollmentKey)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: key does not match the expected format", v1.ErrInvalidEnrollmentKey)
	}
	return nil
}

// Join attempts to enroll the node into the private network with the given
// key. It is invoked by first-boot automation, not by the provisioning
// pipeline itself, but the pipeline validates its inputs up front.
//
// Retries are bounded with a fixed delay between attempts, no backoff and no
// jitter. Exceeding the attempt budget is a terminal failure.
func Join(runner v1.Runner, log v1.Logger, key string) error {
	return JoinWithRetry(runner, log, key, cnst.EnrollAttempts, cnst.EnrollDelay)
}

// JoinWithRetry is Join with an explicit attempt count and delay.
func JoinWithRetry(runner v1.Runner, log v1.Logger, key string, attempts int, delay time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	var lastErr error
	for tries := 0; tries < attempts; tries++ {
		out, err := runner.Run("tailscale", "up", "--authkey", key)
		if err == nil {
			log.Infof("Node enrolled into the network")
			return nil
		}
		lastErr = err
		log.Warnf("Enrollment attempt %d/%d failed: %s: %s", tries+1, attempts, err.Error(), string(out))
		if tries < attempts-1 {
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("enrollment failed after %d attempts: %w", attempts, lastErr)
}
