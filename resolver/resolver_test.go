package resolver

import (
	"testing"

	molt "github.com/stealthrocket/molt-io"
)

func TestEncodeDecodeAddrInfoRoundTrip(t *testing.T) {
	in := []AddrInfo{
		{
			Family:    molt.InetFamily,
			Type:      molt.StreamSocket,
			Proto:     molt.TCPProtocol,
			CanonName: "localhost",
			Addr:      molt.Inet4Address{Port: 80, Addr: [4]byte{127, 0, 0, 1}},
		},
		{
			Family: molt.Inet6Family,
			Type:   molt.StreamSocket,
			Proto:  molt.TCPProtocol,
			Addr:   molt.Inet6Address{Port: 443, Addr: [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}},
		},
	}
	buf, err := EncodeAddrInfoList(in)
	if err != nil {
		t.Fatalf("EncodeAddrInfoList: %v", err)
	}
	out, err := DecodeAddrInfoList(buf)
	if err != nil {
		t.Fatalf("DecodeAddrInfoList: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
	if out[0].CanonName != "localhost" {
		t.Errorf("CanonName = %q, want localhost", out[0].CanonName)
	}
	if out[1].Addr != in[1].Addr {
		t.Errorf("Addr = %v, want %v", out[1].Addr, in[1].Addr)
	}
}

func TestDecodeAddrInfoRejectsTruncatedEnvelope(t *testing.T) {
	if _, err := DecodeAddrInfoList([]byte{1, 0, 0, 0}); err == nil {
		t.Fatalf("DecodeAddrInfoList should reject a truncated envelope")
	}
}

func TestNumericLookupLiteralOnly(t *testing.T) {
	results, err := Numeric{}.Lookup("127.0.0.1", "8080", Hints{Type: molt.StreamSocket})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Lookup returned %d results, want 1", len(results))
	}
	addr, ok := results[0].Addr.(molt.Inet4Address)
	if !ok {
		t.Fatalf("Addr = %T, want Inet4Address", results[0].Addr)
	}
	if addr.Port != 8080 || addr.Addr != [4]byte{127, 0, 0, 1} {
		t.Errorf("Addr = %v, want 127.0.0.1:8080", addr)
	}

	if _, err := (Numeric{}).Lookup("localhost", "80", Hints{}); err == nil {
		t.Fatalf("Numeric lookup of a hostname should fail")
	}
	if _, err := (Numeric{}).Lookup("127.0.0.1", "70000", Hints{}); err == nil {
		t.Fatalf("Numeric lookup with an out-of-range port should fail")
	}
}

func TestNativeLookupHonorsNumericHostFlag(t *testing.T) {
	if _, err := (Native{}).Lookup("localhost", "80", Hints{Flags: FlagNumericHost}); err == nil {
		t.Fatalf("numeric-host lookup of a hostname should fail without querying the resolver")
	}
}

func TestNativeLookupLoopback(t *testing.T) {
	results, err := Native{}.Lookup("localhost", "80", Hints{Family: molt.InetFamily, Type: molt.StreamSocket})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("Lookup(localhost) returned no results")
	}
	for _, r := range results {
		if r.Family != molt.InetFamily {
			t.Errorf("Family = %v, want InetFamily", r.Family)
		}
	}
}
