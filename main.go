package main

import (
	"os"

	"github.com/kebairia/jujubackup/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
