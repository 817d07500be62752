// Package scaffold assembles a production gRPC server with managed
// lifecycle, bounded concurrency, health reporting, and optional service
// discovery.
//
// The package wires together the building blocks from the subpackages:
// config loading, structured logging, the serve.Server endpoint, the
// lifecycle.Manager state machine, the health service backed by a check
// repository and admission policy, and etcd registration.
//
// A minimal server:
//
//	app, err := scaffold.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := app.Run(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.Exit(report.ExitCode())
//
// Application services implement handler.Handler and are added with
// WithHandlers:
//
//	app, err := scaffold.New(
//	    scaffold.WithHandlers(myService),
//	    scaffold.WithLogger(logger),
//	)
//
// Run blocks until the server stops: a SIGINT or SIGTERM starts a
// graceful drain bounded by the configured grace period, and a second,
// different termination signal forces an immediate stop. The returned
// lifecycle.Report carries the final state and the process exit code.
package scaffold
