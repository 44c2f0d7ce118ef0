package main

import (
	"fmt"
	"log"
	"strconv"

	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/fence"
	"github.com/cephmds/mdjournal/pkg/mdlog"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/metrics"
	"github.com/cephmds/mdjournal/pkg/pointer"
	"github.com/cephmds/mdjournal/util"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	if err := util.SetOutput(cfg.LogFilePath, cfg.LogToConsole); err != nil {
		log.Fatalf("❌ Failed to configure logging: %v", err)
	}

	fmt.Printf("🚀 Starting mdlogd for node %d (pool %d) | 📊 Exporter: %v\n", cfg.NodeID, cfg.MetadataPoolID, cfg.EnableExporter)

	store, err := pointer.NewFileStore(cfg.JournalDir)
	if err != nil {
		log.Fatalf("❌ Failed to open journal pointer store: %v", err)
	}

	src := metasource.NewMemSource(cfg.NodeID, cfg.MetadataPoolID)
	newJournal := mdlog.DefaultJournalFactory(cfg, cfg.NodeID)

	jlog := mdlog.New(cfg, store, newJournal, src, nil)

	lease, err := fence.New(cfg, strconv.FormatUint(cfg.NodeID, 10))
	if err != nil {
		log.Fatalf("❌ Failed to start writer lease: %v", err)
	}
	lease.OnFenced(func() {
		util.Fatal("mdlogd: writer lease revoked for node %d, exiting for restart", cfg.NodeID)
	})

	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	}

	if err := jlog.Start(); err != nil {
		log.Fatalf("❌ Journal recovery/replay failed: %v", err)
	}
	defer jlog.Close()

	util.Info("mdlogd: node %d ready, front journal at write_pos=%d", cfg.NodeID, jlog.ObjectJournal().WritePos())

	select {}
}
