// The main package for the backlink-monitor executable.
package main

import (
	"github.com/JakeFAU/backlink-monitor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
