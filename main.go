// The main package for the sitecapture executable.
package main

import (
	"github.com/JakeFAU/site-capture/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
