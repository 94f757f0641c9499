package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
	"github.com/core-tools/hsu-agentplane-go/pkg/master"
)

type flagOptions struct {
	Config      string `long:"config" description:"path to the control-plane configuration file" required:"true"`
	LogLevel    string `long:"log-level" description:"log level (debug, info, warn, error)" default:"info"`
	RunDuration int    `long:"run-duration" description:"optional run duration in seconds, 0 runs until a signal"`
	Validate    bool   `long:"validate" description:"validate the configuration file and exit"`
}

func main() {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		if err := master.ValidateConfigFile(opts.Config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	baseLogger, err := logging.NewZapLogger(opts.LogLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewPrefixedLogger("agentplane: ", baseLogger)
	logger.Infof("opts: %+v", opts)

	if err := master.Run(opts.RunDuration, opts.Config, logger); err != nil {
		logger.Errorf("Control plane failed: %v", err)
		os.Exit(1)
	}
}
