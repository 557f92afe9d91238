package stdoutwriter

import (
	"fmt"
	"os"
)

// Logger writes each log entry as a line on standard output.
type Logger struct{}

func (l Logger) Write(p []byte) (n int, err error) {
	fmt.Fprintln(os.Stdout, string(p))
	return len(p), nil
}
