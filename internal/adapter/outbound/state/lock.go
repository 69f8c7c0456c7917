package state

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLocked is returned when another process holds the state file lock
// past the lock timeout.
var ErrLocked = errors.New("state file is locked by another process")

const (
	defaultLockTimeout = 5 * time.Second
	lockPoll           = 25 * time.Millisecond
)

// acquireLock takes the cross-process lock guarding path, polling until
// timeout. The returned func releases it.
func acquireLock(path string, timeout time.Duration) (func(), error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		ok, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("acquire file lock: %w", err)
		}
		if ok {
			return func() {
				_ = unlock(f)
				_ = f.Close()
			}, nil
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		time.Sleep(lockPoll)
	}
}
