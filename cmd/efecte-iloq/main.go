// Package main provides the entry point for the efecte-iloq sync service.
package main

import (
	"context"
	"os"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/cmd/efecte-iloq/app"
)

// Version information populated by the release pipeline.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	application, err := app.New(version, commit, date)
	if err != nil {
		app.ExitOnError(err)
	}

	ctx, cancel := app.ContextWithSignals(context.Background())
	defer cancel()

	if err := application.Execute(ctx, os.Args[1:]); err != nil {
		app.ExitOnError(err)
	}
}
