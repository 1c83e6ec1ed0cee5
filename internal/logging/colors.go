package logging

import (
	"github.com/fatih/color"
)

// Level colors. fatih/color disables itself when stderr is not a terminal or
// NO_COLOR is set.
var (
	colorError = color.New(color.FgRed, color.Bold)
	colorWarn  = color.New(color.FgRed)
	colorInfo  = color.New(color.Reset)
	colorDebug = color.New(color.FgGreen)
	colorTrace = color.New(color.FgYellow)
	colorMeta  = color.New(color.FgWhite)
)
