package logging

import (
	"fmt"
	"os"
)

// Fatal logs at Error level and exits, in the manner of the standard 'log'
// package. Reserve it for the command-line entry point.
func (log *Logger) Fatal(v ...interface{}) {
	log.Log(Error, 1, "%s", fmt.Sprint(v...))
	os.Exit(1)
}
