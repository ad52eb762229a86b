package main

import (
	"fmt"
	"os"

	"github.com/trezcool/peereval/core"
	logsvc "github.com/trezcool/peereval/services/logger"
)

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up zap: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	logger.Enable(false)
	defer logger.Close()

	cli := newCommandLine(conf, logger, os.Stdout)
	if err = cli.run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		logger.Close()
		os.Exit(1)
	}
}
