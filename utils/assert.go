package utils

import "fmt"

// Debug toggles internal invariant checking.
var Debug = true

// Assert panic at debug mode when cond is false.
func Assert(cond bool, format string, a ...interface{}) {
	if Debug && !cond {
		panic(fmt.Sprintf(format, a...))
	}
}
