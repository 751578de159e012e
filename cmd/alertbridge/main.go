// Command alertbridge turns Discord option trade alerts into TradeStation
// bracket orders.
package main

import (
	"os"

	"alertbridge/internal/cli"
	"alertbridge/internal/logging"
)

func main() {
	logger := logging.NewLoggerWithConfig(logging.LogConfig{Level: "info", Console: true, Out: os.Stderr})

	if err := cli.NewRootCmd(logger).Execute(); err != nil {
		logger.Error().Msg(logging.MaskSecrets(err.Error()))
		os.Exit(1)
	}
}
