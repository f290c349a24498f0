// The main package for the appcrawler executable.
package main

import (
	"github.com/JakeFAU/appstore-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
