// Command exportd serves the export API. Configuration comes from the file
// named by EXPORT_CONFIG (or config.yaml in the working directory) and
// EXPORT_* environment variables.
package main

import (
	"log/slog"
	"os"

	"github.com/Benevox/rapidpro/internal/app"
)

func main() {
	application, err := app.NewApplication("")
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.RunUntilSignal(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
