package main

import (
	"github.com/kubewarden/policy-engine/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()
	cmd.Execute(rootCmd)
}
