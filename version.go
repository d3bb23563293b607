package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const version = "0.1.0"

var revision = "HEAD"

var showVersion bool

func init() {
	pflag.BoolVar(&showVersion, "version", false, "print the version and exit")
}

func handleVersion() {
	if !showVersion {
		return
	}
	fmt.Printf("netstimtest %s (revision: %s)\n", version, revision)
	os.Exit(0)
}
