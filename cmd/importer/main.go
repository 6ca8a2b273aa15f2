package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inventory_go/internal/app"
	"inventory_go/internal/csvmap"
)

func main() {
	os.Exit(run())
}

func run() int {
	file := flag.String("file", "", "CSV file to import (header line required)")
	seller := flag.String("seller", "", "seller id owning the imported stock")
	dryRun := flag.Bool("dry-run", false, "print the detected column mapping and exit")
	flag.Parse()

	if *file == "" || *seller == "" {
		flag.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := bootstrap.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", slog.Any("error", err))
		}
	}()

	f, err := os.Open(*file)
	if err != nil {
		slog.Error("❌ Cannot open CSV", slog.String("file", *file), slog.Any("error", err))
		return 1
	}
	defer f.Close()

	if *dryRun {
		mapping, err := detect(bootstrap.Mapper, f)
		if err != nil {
			slog.Error("❌ Cannot read header", slog.Any("error", err))
			return 1
		}
		for field, header := range mapping {
			fmt.Printf("%-10s <- %q\n", field, header)
		}
		return 0
	}

	slog.Info("📥 Importing stock", slog.String("file", *file), slog.String("seller", *seller))
	rep, err := csvmap.NewImporter(bootstrap.Mapper, bootstrap.Engine).Import(ctx, f, *seller)
	if err != nil {
		slog.Error("❌ Import failed", slog.Any("error", err))
		return 1
	}

	fmt.Println(rep.String())
	for _, w := range rep.Warnings {
		fmt.Println("WARNING:", w)
	}
	for _, e := range rep.Errors {
		fmt.Printf("line %d: %s\n", e.Line, e.Message)
	}
	if len(rep.Errors) > 0 {
		return 1
	}
	return 0
}
