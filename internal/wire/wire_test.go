package wire

import (
	"bytes"
	"fmt"
	"net"
	"testing"

	"github.com/kadnet/kad/internal/guid"
)

func mkID(width int, last byte) guid.ID {
	b := make([]byte, width)
	b[width-1] = last
	return guid.New(b)
}

func TestEncodeDecodePingQuery(t *testing.T) {
	m := Message{
		TxID:     []byte("aa"),
		Type:     TypeQuery,
		Method:   MethodPing,
		SenderID: mkID(20, 1),
	}
	enc, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Type != TypeQuery || dec.Method != MethodPing {
		t.Fatalf("decoded = %+v", dec)
	}
	if !dec.SenderID.Equal(m.SenderID) {
		t.Fatalf("SenderID mismatch")
	}
}

func TestEncodeDecodeFindNodeQuery(t *testing.T) {
	m := Message{
		TxID:     []byte("bb"),
		Type:     TypeQuery,
		Method:   MethodFindNode,
		SenderID: mkID(20, 1),
		Target:   mkID(20, 2),
	}
	enc, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !dec.Target.Equal(m.Target) {
		t.Fatalf("Target mismatch")
	}
}

func TestEncodeDecodeFindNodeResponse(t *testing.T) {
	nodes := []NodeInfo{
		{ID: mkID(20, 3), IP: net.IPv4(1, 2, 3, 4), Port: 6881},
	}
	items, err := EncodeCompactNodeList(nodes)
	if err != nil {
		t.Fatalf("EncodeCompactNodeList: %v", err)
	}
	m := Message{
		TxID:     []byte("cc"),
		Type:     TypeResponse,
		SenderID: mkID(20, 1),
		Nodes:    items,
	}
	enc, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := DecodeCompactNodeList(dec.Nodes, 20)
	if err != nil {
		t.Fatalf("DecodeCompactNodeList: %v", err)
	}
	if len(got) != 1 || !got[0].ID.Equal(nodes[0].ID) {
		t.Fatalf("got = %+v", got)
	}
}

// TestFindNodeResponseNodesIsABencodeList asserts the actual on-wire shape
// of the "nodes" field: a bencode list of compact node-info byte strings
// (l<len>:...e), not a single concatenated byte string. Round-tripping
// through the package's own helpers (as TestEncodeDecodeFindNodeResponse
// does) cannot catch a mismatch with this wire shape since both sides would
// agree with each other even if wrong; this test inspects the raw bytes.
func TestFindNodeResponseNodesIsABencodeList(t *testing.T) {
	nodes := []NodeInfo{
		{ID: mkID(4, 3), IP: net.IPv4(1, 2, 3, 4), Port: 6881},
		{ID: mkID(4, 7), IP: net.IPv4(5, 6, 7, 8), Port: 80},
	}
	items, err := EncodeCompactNodeList(nodes)
	if err != nil {
		t.Fatalf("EncodeCompactNodeList: %v", err)
	}
	m := Message{TxID: []byte("x"), Type: TypeResponse, SenderID: mkID(4, 1), Nodes: items}
	enc, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	recLen := 4 + 4 + 2 // idWidth + ipv4 + port
	want := fmt.Sprintf("5:nodesl%d:", recLen)
	if !bytes.Contains(enc, []byte(want)) {
		t.Fatalf("encoded message does not contain a bencode list of %d-byte node strings: %s", recLen, enc)
	}
	// A single-concatenated-string encoding would instead contain the
	// fixed-length prefix for the whole blob with no 'l'/'e' list markers.
	wrongPrefix := fmt.Sprintf("5:nodes%d:", recLen*len(nodes))
	if bytes.Contains(enc, []byte(wrongPrefix)) {
		t.Fatalf("nodes field encoded as a single concatenated byte string, not a list: %s", enc)
	}
}

func TestEncodeDecodeError(t *testing.T) {
	m := Message{
		TxID:    []byte("dd"),
		Type:    TypeError,
		ErrCode: ErrCodeMethodUnknown,
		ErrMsg:  "unknown method",
	}
	enc, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.ErrCode != ErrCodeMethodUnknown || dec.ErrMsg != "unknown method" {
		t.Fatalf("decoded = %+v", dec)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte("d1:t2:aa1:y1:ze"))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestDecodeRejectsMissingField(t *testing.T) {
	_, err := Decode([]byte("d1:y1:qe"))
	if err == nil {
		t.Fatal("expected error for missing t")
	}
}

func TestCompactNodeIPv4RoundTrip(t *testing.T) {
	n := NodeInfo{ID: mkID(20, 9), IP: net.IPv4(192, 168, 1, 1), Port: 12345}
	b, err := EncodeCompactNode(n)
	if err != nil {
		t.Fatalf("EncodeCompactNode: %v", err)
	}
	if len(b) != 20+4+2 {
		t.Fatalf("len = %d, want %d", len(b), 26)
	}
	got, err := DecodeCompactNode(b, 20)
	if err != nil {
		t.Fatalf("DecodeCompactNode: %v", err)
	}
	if !got.ID.Equal(n.ID) || got.Port != n.Port || !got.IP.Equal(n.IP) {
		t.Fatalf("got = %+v, want %+v", got, n)
	}
}

func TestCompactNodeIPv6RoundTrip(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	n := NodeInfo{ID: mkID(20, 7), IP: ip, Port: 80}
	b, err := EncodeCompactNode(n)
	if err != nil {
		t.Fatalf("EncodeCompactNode: %v", err)
	}
	if len(b) != 20+16+2 {
		t.Fatalf("len = %d, want %d", len(b), 38)
	}
	got, err := DecodeCompactNode(b, 20)
	if err != nil {
		t.Fatalf("DecodeCompactNode: %v", err)
	}
	if !got.IP.Equal(ip) {
		t.Fatalf("IP = %v, want %v", got.IP, ip)
	}
}

func TestRoutingStateRoundTrip(t *testing.T) {
	self := mkID(20, 1)
	nodes := []NodeInfo{
		{ID: mkID(20, 2), IP: net.IPv4(10, 0, 0, 1), Port: 1},
		{ID: mkID(20, 3), IP: net.IPv4(10, 0, 0, 2), Port: 2},
	}
	buf, err := EncodeRoutingState(self, nodes)
	if err != nil {
		t.Fatalf("EncodeRoutingState: %v", err)
	}
	gotSelf, gotNodes, err := DecodeRoutingState(buf, 20)
	if err != nil {
		t.Fatalf("DecodeRoutingState: %v", err)
	}
	if !gotSelf.Equal(self) {
		t.Fatalf("self mismatch")
	}
	if len(gotNodes) != 2 || !gotNodes[0].ID.Equal(nodes[0].ID) || !gotNodes[1].ID.Equal(nodes[1].ID) {
		t.Fatalf("nodes mismatch: %+v", gotNodes)
	}
}

func TestBootstrapListRoundTrip(t *testing.T) {
	nodes := []NodeInfo{
		{ID: mkID(20, 5), IP: net.IPv4(8, 8, 8, 8), Port: 53},
	}
	buf, err := EncodeBootstrapList(nodes)
	if err != nil {
		t.Fatalf("EncodeBootstrapList: %v", err)
	}
	got, err := DecodeBootstrapList(buf, 20)
	if err != nil {
		t.Fatalf("DecodeBootstrapList: %v", err)
	}
	if len(got) != 1 || !got[0].ID.Equal(nodes[0].ID) {
		t.Fatalf("got = %+v", got)
	}
}

func TestEncodeCanonicalKeyOrder(t *testing.T) {
	m := Message{
		TxID:     []byte("x"),
		Type:     TypeQuery,
		Method:   MethodFindNode,
		SenderID: mkID(4, 1),
		Target:   mkID(4, 2),
	}
	enc, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Top-level keys must appear in ascending order: a, q, t, y.
	aIdx := bytes.Index(enc, []byte("1:a"))
	qIdx := bytes.Index(enc, []byte("1:q"))
	tIdx := bytes.Index(enc, []byte("1:t"))
	yIdx := bytes.Index(enc, []byte("1:y"))
	if !(aIdx < qIdx && qIdx < tIdx && tIdx < yIdx) {
		t.Fatalf("key order wrong: a=%d q=%d t=%d y=%d", aIdx, qIdx, tIdx, yIdx)
	}
}
