// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// runWithNiceness starts cmd, applies niceness to it once its pid is known,
// then waits for completion. A zero niceness is left as the inherited
// default.
func runWithNiceness(cmd *exec.Cmd, niceness int) error {
	if niceness == 0 {
		return cmd.Run()
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if err := unix.Setpriority(unix.PRIO_PGRP, cmd.Process.Pid, niceness); err != nil {
		// Non-fatal: the command still runs at the default priority.
	}
	return cmd.Wait()
}
