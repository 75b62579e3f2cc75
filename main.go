package main

import (
	"github.com/sidkik/dirmirror/cmd"
	"github.com/sidkik/dirmirror/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
