// Package main is the entry point for the abp pipeline binary.
package main

import (
	"os"

	"abp-pipeline/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
