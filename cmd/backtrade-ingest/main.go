package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/7uyf/backtrade/internal/config"
	"github.com/7uyf/backtrade/internal/ingest"
	"github.com/7uyf/backtrade/internal/util"
)

func main() {
	var (
		cfgPath = flag.String("config", "config/backtrade.yaml", "path to config file")
		dataDir = flag.String("data-dir", "", "override data directory")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: backtrade-ingest [flags] <chain.csv> [chain.csv ...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	dir := *dataDir
	if dir == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		dir = cfg.Storage.DataDir
	}

	logger := util.NewLogger("info", "text")
	chains := ingest.NewChainStore(dir)

	for _, path := range flag.Args() {
		snaps, err := ingest.ReadChainCSV(path)
		if err != nil {
			log.Fatalf("reading %s: %v", path, err)
		}
		if err := chains.WriteSnapshots(snaps); err != nil {
			log.Fatalf("writing %s: %v", path, err)
		}
		rows := 0
		for _, s := range snaps {
			rows += s.Len()
		}
		logger.Info("ingested chain export",
			"file", path, "snapshots", len(snaps), "quotes", rows)
	}
}
