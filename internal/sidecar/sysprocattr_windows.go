//go:build windows

package sidecar

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// The backend is a console program; keep it from opening a console window
// next to the desktop UI.
func configureCmdSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP,
	}
}
