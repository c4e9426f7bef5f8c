package bootstrap

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/kadnet/kad/internal/guid"
	"github.com/kadnet/kad/internal/wire"
)

func TestLoadNodesMissingFileIsEmpty(t *testing.T) {
	nodes, err := LoadNodes(filepath.Join(t.TempDir(), "missing.nodes"), 20)
	if err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("nodes = %v, want empty", nodes)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	id := guid.New(make([]byte, 20))
	id.Bytes[19] = 7
	want := []wire.NodeInfo{
		{ID: id, IP: net.IPv4(10, 0, 0, 1), Port: 6881},
	}
	path := filepath.Join(t.TempDir(), "bootstrap.nodes")

	if err := SaveNodes(path, want); err != nil {
		t.Fatalf("SaveNodes: %v", err)
	}
	got, err := LoadNodes(path, 20)
	if err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	if len(got) != 1 || !got[0].ID.Equal(want[0].ID) || got[0].Port != want[0].Port {
		t.Fatalf("got = %+v, want %+v", got, want)
	}
}
