package main

import (
	"os"

	"github.com/austindbirch/outboundiq/cmd/oiqctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
