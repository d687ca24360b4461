// Command watchctl builds the watcher image and runs it the way the hosting
// platform does.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// exitError carries a container exit status back to the shell.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("container exited with status %d", e.code)
}
