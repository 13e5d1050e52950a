// Command refimport loads surface features and interaction pairs from CSV
// files into the reference database used by the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/atlasapprox/server/internal/logging"
	"github.com/atlasapprox/server/internal/refstore"
)

func main() {
	dbPath := flag.String("db", "data/reference.db", "Reference database file")
	organism := flag.String("organism", "", "Organism the rows belong to")
	surface := flag.String("surface", "", "CSV of surface features (header row, feature in the first column)")
	interactions := flag.String("interactions", "", "CSV of interaction pairs (header row, source and target in the first two columns)")
	flag.Parse()

	logger := logging.Setup("info", "console", os.Stderr)
	if *organism == "" || (*surface == "" && *interactions == "") {
		fmt.Fprintln(os.Stderr, "usage: refimport -organism NAME [-surface FILE] [-interactions FILE] [-db FILE]")
		os.Exit(2)
	}

	ref, err := refstore.NewStore(*dbPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db", *dbPath).Msg("failed to open reference database")
	}
	defer ref.Close()

	ctx := context.Background()
	imports := []struct {
		kind string
		path string
		load func(context.Context, string, *os.File) (int, error)
	}{
		{"surface", *surface, func(ctx context.Context, organism string, f *os.File) (int, error) {
			return ref.ImportSurfaceCSV(ctx, organism, f)
		}},
		{"interactions", *interactions, func(ctx context.Context, organism string, f *os.File) (int, error) {
			return ref.ImportInteractionsCSV(ctx, organism, f)
		}},
	}
	for _, imp := range imports {
		if imp.path == "" {
			continue
		}
		f, err := os.Open(imp.path)
		if err != nil {
			logger.Fatal().Err(err).Str("file", imp.path).Msg("failed to open csv")
		}
		n, err := imp.load(ctx, *organism, f)
		f.Close()
		if err != nil {
			logger.Fatal().Err(err).Str("file", imp.path).Msg("import failed")
		}
		logger.Info().Str("organism", *organism).Str("kind", imp.kind).Int("rows", n).Msg("imported")
	}
}
