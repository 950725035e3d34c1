// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package imagefs

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// diskFree reports bytes available to unprivileged writers on the volume
// holding path. The nearest existing ancestor is probed when path itself
// does not exist yet.
func diskFree(path string) (int64, error) {
	probe := path
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	var st unix.Statfs_t
	if err := unix.Statfs(probe, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
