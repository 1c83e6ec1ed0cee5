package logging

import (
	"fmt"
	"os"
)

// Fatal logs at Error level and exits. Only for use in main packages.
func (log *Logger) Fatal(v ...interface{}) {
	log.Log(Error, 1, "%s", fmt.Sprint(v...))
	os.Exit(1)
}
