package main

import (
	"os"

	"github.com/TheStatisticalMind/site-deployer/tools/deployer/cmd"
	"github.com/pterm/pterm"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		pterm.Error.WithWriter(os.Stderr).Println(err)
		os.Exit(1)
	}
}
