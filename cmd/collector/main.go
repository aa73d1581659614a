// Command collector manages personal collections from the command line.
package main

import (
	"os"

	"github.com/mesh-intelligence/collector/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
