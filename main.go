// The main package for the crawlkit executable.
package main

import (
	"github.com/JakeFAU/crawlkit/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
