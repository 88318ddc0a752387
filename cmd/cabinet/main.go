// Command cabinet manages a local content-addressable filing cabinet.
package main

import (
	"context"
	"os"

	"github.com/hellisbugfree/filing-cabinet/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
