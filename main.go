// ./main.go
package main

import (
	"github.com/xkilldash9x/eventlogger/cmd"
)

// main is the entry point for the eventlogger CLI.
func main() {
	cmd.Execute()
}
