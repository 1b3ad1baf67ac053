// cmd/ustore/main.go
package main

import (
	"os"

	"github.com/arc-language/ustore/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
