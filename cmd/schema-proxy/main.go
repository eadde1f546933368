package main

import (
	"os"

	"github.com/mcpinfra/mcp-schema-proxy/cmd/schema-proxy/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
