package debug

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	verbColor = color.New(color.FgCyan, color.Bold)
	argColor  = color.New(color.FgYellow)
)

// ConsoleQueryLogger is a ready-made hook for the client's Log option: it
// prints each compiled statement to stderr with the leading SQL verb
// highlighted.
func ConsoleQueryLogger(query string, args []interface{}) {
	verb := query
	rest := ""
	if idx := strings.IndexByte(query, ' '); idx > 0 {
		verb, rest = query[:idx], query[idx:]
	}
	fmt.Fprintf(os.Stderr, "%s%s %s\n", verbColor.Sprint(verb), rest, argColor.Sprintf("%v", args))
}
