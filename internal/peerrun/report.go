package peerrun

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nmxmxh/cmesh/internal/meshdoc"
)

// WriteReport renders a PeerReport as indented JSON to
// <outputDir>/<deviceName>-report.json (spec.md §6.6), the artifact every
// peer produces once it reaches Reporting.
func WriteReport(outputDir string, deviceName string, report meshdoc.PeerReport) error {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("peerrun: marshal report: %w", err)
	}
	path := filepath.Join(outputDir, fmt.Sprintf("%s-report.json", deviceName))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("peerrun: write report to %s: %w", path, err)
	}
	return nil
}
