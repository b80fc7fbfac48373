//go:build !windows

package doctor

import (
	"os"
	"os/exec"
)

// resetTerminal restores cooked mode in case a raw-mode reader left the tty
// behind.
func resetTerminal() {
	cmd := exec.Command("stty", "sane")
	cmd.Stdin = os.Stdin
	_ = cmd.Run()
}
