package cli

import "fmt"

// exitError ends the process with code without printing an error.
type exitError struct {
	code   int
	reason string
}

func (e exitError) Error() string { return fmt.Sprintf("exit %d: %s", e.code, e.reason) }
