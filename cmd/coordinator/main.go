// Command coordinator runs the coordinator side of a cmesh benchmark: it
// waits for a quorum of peers, generates and publishes an execution plan and
// start time, then waits for the run to finish and emits a DOT artifact of
// the connection graph it chose.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/cmesh/internal/coordinator"
	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/p2p"
	"github.com/nmxmxh/cmesh/internal/store"
)

func main() {
	var (
		coordCollection string
		minPeers        int
		minDelayMsec    int
		maxDelayMsec    int
		testDurationSec int
		bindAddr        string
		bindPort        int
		connGraph       string
		outputDir       string
	)

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the coordinator side of a cmesh benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(coordCollection, minPeers, minDelayMsec, maxDelayMsec, testDurationSec, bindAddr, bindPort, connGraph, outputDir)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&coordCollection, "coord-collection", "cmesh-coord", "coord-info collection name")
	flags.IntVar(&minPeers, "min-peers", 1, "quorum size")
	flags.IntVar(&minDelayMsec, "min-msg-delay-msec", 10, "inclusive lower bound on producer sleep")
	flags.IntVar(&maxDelayMsec, "max-msg-delay-msec", 500, "exclusive upper bound on producer sleep")
	flags.IntVar(&testDurationSec, "test-duration-sec", 60, "producer runtime")
	flags.StringVar(&bindAddr, "bind-addr", "0.0.0.0", "listener ip")
	flags.IntVar(&bindPort, "bind-port", 4001, "listener port")
	flags.StringVar(&connGraph, "connection-graph", "complete", "one of complete, spanning-tree, la-model")
	flags.StringVar(&outputDir, "output-dir", "/output", "directory for DOT graph artifact")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(coordCollection string, minPeers, minDelayMsec, maxDelayMsec, testDurationSec int, bindAddr string, bindPort int, connGraph, outputDir string) error {
	logger := logx.Default("coordinator")

	appID := os.Getenv("DITTO_APP_ID")
	license := os.Getenv("DITTO_LICENSE")
	if appID == "" || license == "" {
		return fmt.Errorf("coordinator: DITTO_APP_ID and DITTO_LICENSE must both be set")
	}
	logger.Debug("loaded store credentials", logx.String("app_id", appID))

	kind := coordinator.GraphKind(connGraph)
	switch kind {
	case coordinator.GraphComplete, coordinator.GraphSpanningTree, coordinator.GraphLocalAttach:
	default:
		return fmt.Errorf("coordinator: unknown --connection-graph %q", connGraph)
	}

	identity, err := p2p.NewIdentity()
	if err != nil {
		return fmt.Errorf("coordinator: generate identity: %w", err)
	}
	host, err := p2p.Listen(bindAddr, bindPort, true, identity, logger)
	if err != nil {
		return fmt.Errorf("coordinator: start listener: %w", err)
	}
	defer host.Close()

	st := store.NewStore()

	cfg := coordinator.Config{
		CoordCollectionName: coordCollection,
		MinPeers:            minPeers,
		TestDurationSec:     uint32(testDurationSec),
		MinMsgDelayMsec:     uint32(minDelayMsec),
		MaxMsgDelayMsec:     uint32(maxDelayMsec),
		ConnectionGraph:     kind,
		OutputDir:           outputDir,
	}

	co := coordinator.New(cfg, st, logger)
	logger.Info("waiting for peers", logx.Int("min_peers", minPeers), logx.String("connection_graph", connGraph))
	plan, err := co.Run()
	if err != nil {
		return fmt.Errorf("coordinator: run: %w", err)
	}
	logger.Info("run complete", logx.Int("peers", len(plan.Peers)))
	return nil
}
