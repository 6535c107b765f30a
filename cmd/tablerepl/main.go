// Command tablerepl runs the table replication consistency core
// against the servers named in a config file and periodically prints
// the consistency registry.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	tablerepl "github.com/mariadb-corporation/tablerepl"
	"github.com/mariadb-corporation/tablerepl/binlog"
	"github.com/mariadb-corporation/tablerepl/config"
)

func main() {
	configPath := flag.String("config", "tablerepl.json", "config file")
	dumpEvery := flag.Duration("dump", 30*time.Second, "registry dump interval, 0 disables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)
	specs, err := buildSpecs(cfg)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}

	sup := tablerepl.NewSupervisor(tablerepl.Options{
		MetadataDSN:     cfg.Metadata.DSN,
		FlushInterval:   cfg.Metadata.FlushInterval,
		HeartbeatPeriod: cfg.HeartbeatPeriod,
		Logger:          log,
	})
	if err := sup.Init(specs, cfg.SlaveServerID, cfg.TraceLevel); err != nil {
		for _, spec := range specs {
			if spec.ErrorMessage != "" {
				log.Errorf("listener %d: %s", spec.ListenerID, spec.ErrorMessage)
			}
		}
		log.Error(err)
		os.Exit(1)
	}
	log.Infof("listening to %d servers", len(specs))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var ticker <-chan time.Time
	if *dumpEvery > 0 {
		t := time.NewTicker(*dumpEvery)
		defer t.Stop()
		ticker = t.C
	}

	for {
		select {
		case <-ticker:
			dumpRegistry(sup, log)
		case s := <-sig:
			log.Infof("%v: shutting down", s)
			if err := sup.Shutdown(); err != nil {
				log.Errorf("trailing listener error: %v", err)
				os.Exit(1)
			}
			return
		}
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	return log
}

func buildSpecs(cfg *config.Config) ([]tablerepl.ListenerSpec, error) {
	specs := make([]tablerepl.ListenerSpec, 0, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		spec := tablerepl.ListenerSpec{
			URI:        srv.URI,
			IsMaster:   srv.IsMaster,
			ListenerID: srv.ListenerID,
		}
		switch srv.Start {
		case "file":
			spec.Start = tablerepl.StartPosition{
				Kind:   tablerepl.PositionFile,
				File:   srv.BinlogFile,
				Offset: srv.BinlogPos,
			}
		case "gtid":
			gtid, err := binlog.ParseGtid(srv.Gtid)
			if err != nil {
				return nil, fmt.Errorf("listener %d: %v", srv.ListenerID, err)
			}
			spec.Start = tablerepl.StartPosition{Kind: tablerepl.PositionGtid, Gtid: gtid}
		default:
			spec.Start = tablerepl.StartPosition{Kind: tablerepl.PositionMetadata}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func dumpRegistry(sup *tablerepl.Supervisor, log *logrus.Logger) {
	snapshot := sup.Registry().Snapshot()
	if len(snapshot) == 0 {
		log.Info("registry: empty")
		return
	}
	for _, rec := range snapshot {
		gtid := "unknown"
		if rec.GtidKnown {
			gtid = rec.Gtid.String()
		}
		log.Infof("registry: %-30s server=%d pos=%d gtid=%s",
			rec.DbTable, rec.ServerID, rec.BinlogPos, gtid)
	}
}
