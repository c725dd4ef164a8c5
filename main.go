// The main package for the snapshotter executable.
package main

import (
	"github.com/JakeFAU/snapshotter/cmd"
)

func main() {
	cmd.Execute()
}
