package main

import (
	"github.com/looplinehq/loopline/adapter/cli"
	"github.com/looplinehq/loopline/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()
	cli.SetLogger(logger)
	cli.Execute()
}
