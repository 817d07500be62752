// Command scaffold runs the gRPC server with configuration taken from
// the environment and an optional YAML file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grpckit/scaffold"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	var opts []scaffold.Option
	if *configPath != "" {
		opts = append(opts, scaffold.WithConfigFile(*configPath))
	}

	app, err := scaffold.New(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	report, err := app.Run(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(report.ExitCode())
}
