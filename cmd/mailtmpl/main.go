package main

import (
	"os"

	"github.com/mailtmpl/mailtmpl/pkg/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
