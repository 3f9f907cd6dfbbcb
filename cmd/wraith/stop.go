package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
)

// registerStop registers the `stop` thin client: send SIGTERM to the
// running wraith process named in pidFile, per SPEC_FULL.md section C.
func registerStop(app *kingpin.Application) (*kingpin.CmdClause, *string) {
	cmd := app.Command("stop", "Ask a running wraith to shut down gracefully.")
	pidFile := cmd.Flag("pid-file", "Path to the running wraith's pid file.").Default(defaultPIDFile).String()
	return cmd, pidFile
}

func doStop(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling process %d: %w", pid, err)
	}
	fmt.Printf("sent stop signal to pid %d\n", pid)
	return nil
}
