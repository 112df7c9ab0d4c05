// Command peer joins a cmesh benchmark run as a participant: it bootstraps
// against a coordinator's published CoordinatorInfo, reports heartbeats
// through its full lifecycle, and produces/consumes circular-log records for
// the scheduled test window before writing its report to disk.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/cmesh/internal/logx"
	"github.com/nmxmxh/cmesh/internal/meshdoc"
	"github.com/nmxmxh/cmesh/internal/p2p"
	"github.com/nmxmxh/cmesh/internal/peerrun"
	"github.com/nmxmxh/cmesh/internal/store"
)

func main() {
	var (
		coordCollection string
		coordAddr       string
		coordPort       int
		bindAddr        string
		bindPort        int
		deviceName      string
		outputDir       string
	)

	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Join a cmesh benchmark run as a peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(coordCollection, coordAddr, coordPort, bindAddr, bindPort, deviceName, outputDir)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&coordCollection, "coord-collection", meshdoc.CoordCollectionName, "coord-info collection name, must match coordinator")
	flags.StringVar(&coordAddr, "coord-addr", "", "coordinator ip")
	flags.IntVar(&coordPort, "coord-port", 4001, "coordinator listener port")
	flags.StringVar(&bindAddr, "bind-addr", "", "listener ip (default: resolved local IP)")
	flags.IntVar(&bindPort, "bind-port", 0, "listener port (0 = ephemeral)")
	flags.StringVar(&deviceName, "device-name", "peer", "prefix for generated PeerId")
	flags.StringVar(&outputDir, "output-dir", "/output", "directory for report file")
	cmd.MarkFlagRequired("coord-addr")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(coordCollection, coordAddr string, coordPort int, bindAddr string, bindPort int, deviceName, outputDir string) error {
	logger := logx.Default("peer")

	appID := os.Getenv("DITTO_APP_ID")
	license := os.Getenv("DITTO_LICENSE")
	if appID == "" || license == "" {
		return fmt.Errorf("peer: DITTO_APP_ID and DITTO_LICENSE must both be set")
	}
	logger.Debug("loaded store credentials", logx.String("app_id", appID))

	info, err := os.Stat(outputDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("peer: output dir %q not usable: %w", outputDir, err)
	}

	if bindAddr == "" {
		bindAddr, err = resolveLocalIP()
		if err != nil {
			return fmt.Errorf("peer: resolve local ip: %w", err)
		}
	}

	identity, err := p2p.NewIdentity()
	if err != nil {
		return fmt.Errorf("peer: generate identity: %w", err)
	}
	host, err := p2p.Listen(bindAddr, bindPort, true, identity, logger)
	if err != nil {
		return fmt.Errorf("peer: start listener: %w", err)
	}
	defer host.Close()
	host.AddDialTarget(fmt.Sprintf("%s:%d", coordAddr, coordPort))

	peerID := meshdoc.PeerId(fmt.Sprintf("%s_%s", deviceName, identity.HexSuffix()))
	advertisedPort := bindPort
	if advertisedPort == 0 {
		advertisedPort = host.ListenPort()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The in-process store stands in for the replicated document store
	// capability (spec.md §6.1). It is local to this process: nothing is
	// replicated to or from a coordinator running as a separate process.
	st := store.NewStore()

	cfg := peerrun.Config{
		Self: meshdoc.Peer{
			PeerId:     peerID,
			PeerIPAddr: bindAddr,
			PeerPort:   uint16(advertisedPort),
		},
		CoordCollectionName: coordCollection,
		DeviceName:          deviceName,
		OutputDir:           outputDir,
		Dial:                host.AddDialTarget,
	}

	logger.Info("starting peer", logx.String("peer_id", string(peerID)))
	report, err := peerrun.Run(ctx, cfg, st, logger)
	if err != nil {
		return fmt.Errorf("peer: run: %w", err)
	}
	logger.Info("peer finished",
		logx.Uint64("records_produced", report.RecordsProduced),
		logx.Uint64("message_events", report.MessageLatency.NumEvents))
	return nil
}

func resolveLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "127.0.0.1", nil
}
