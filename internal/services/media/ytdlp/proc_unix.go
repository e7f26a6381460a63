//go:build unix

package ytdlp

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcess puts yt-dlp in its own process group so that cancelling
// also stops the ffmpeg it spawns for conversion.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
}
