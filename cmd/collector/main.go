package main

import (
	_ "net/http/pprof"

	"github.com/eventmosaic/gdelt/collector"
)

func main() {
	// nolint:errcheck
	collector.RootCmd.Execute()
}
