package main

import (
	"os"

	"github.com/dhcgn/mbox-archive/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
