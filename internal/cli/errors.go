package cli

import "fmt"

// Carries the exit code of a process started by the run command. The
// caller exits with Code without reporting an error.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}
