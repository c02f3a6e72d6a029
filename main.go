// The main package for the propmon executable.
package main

import (
	"github.com/JakeFAU/property-monitor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
