package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/wudi/pdfstudio/internal/cli"
)

var version = "dev"

func main() {
	root := cli.NewRootCmd()
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
