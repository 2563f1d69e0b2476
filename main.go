// The main package for the influence-crawler executable.
package main

import (
	"github.com/JakeFAU/influence-crawler/cmd"
)

func main() {
	cmd.Execute()
}
