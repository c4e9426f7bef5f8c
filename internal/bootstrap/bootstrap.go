// Package bootstrap loads the initial seed node list a fresh node uses to
// join the DHT when its persisted routing state is empty or absent.
package bootstrap

import (
	"fmt"
	"os"

	"github.com/kadnet/kad/internal/wire"
)

// LoadNodes reads and decodes the bencoded bootstrap node list at path. A
// missing file is not an error: it simply yields no seed nodes, since a
// brand-new deployment may rely solely on the persisted routing state (or
// on an operator adding peers later).
func LoadNodes(path string, idWidth int) ([]wire.NodeInfo, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reading %s: %w", path, err)
	}
	nodes, err := wire.DecodeBootstrapList(buf, idWidth)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: decoding %s: %w", path, err)
	}
	return nodes, nil
}

// SaveNodes encodes nodes as a bootstrap list and writes it to path,
// allowing an operator to snapshot currently known good peers for reuse on
// a later restart.
func SaveNodes(path string, nodes []wire.NodeInfo) error {
	buf, err := wire.EncodeBootstrapList(nodes)
	if err != nil {
		return fmt.Errorf("bootstrap: encoding nodes: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("bootstrap: writing %s: %w", path, err)
	}
	return nil
}
