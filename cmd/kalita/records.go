package main

import (
	"io"

	"github.com/artpar/kalita/bootstrap"
	"github.com/artpar/kalita/core/channel/cli"
	"github.com/artpar/kalita/core/runtime"
	"github.com/spf13/cobra"
)

var recordsVerbose bool

func init() {
	cmd := cli.New(openRuntime).Command()
	cmd.PersistentFlags().BoolVar(&recordsVerbose, "log", false, "write application logs to stderr")
	rootCmd.AddCommand(cmd)
}

// openRuntime assembles the application without starting the HTTP server.
func openRuntime(cmd *cobra.Command) (*runtime.Runtime, func() error, error) {
	var logOut io.Writer = io.Discard
	if recordsVerbose {
		logOut = cmd.ErrOrStderr()
	}
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    version,
		LogOutput:  logOut,
	})
	if err != nil {
		return nil, nil, err
	}
	return app.Runtime, app.Shutdown, nil
}
