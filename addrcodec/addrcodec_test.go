package addrcodec

import (
	"bytes"
	"testing"

	molt "github.com/stealthrocket/molt-io"
)

func TestEncodeIPv6MatchesSpecVector(t *testing.T) {
	addr := molt.Inet6Address{
		Port:     443,
		FlowInfo: 0,
		ScopeID:  0,
		Addr:     [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
	}
	got, err := Encode(addr)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{
		0x0a, 0x00, 0xbb, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x01,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode(%v) = % x, want % x", addr, got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []molt.SocketAddress{
		molt.Inet4Address{Port: 8080, Addr: [4]byte{127, 0, 0, 1}},
		molt.Inet6Address{Port: 1234, Addr: [16]byte{0xfe, 0x80}},
	}
	for _, addr := range cases {
		buf, err := Encode(addr)
		if err != nil {
			t.Fatalf("Encode(%v): %v", addr, err)
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%x): %v", buf, err)
		}
		if got != addr {
			t.Errorf("round trip = %v, want %v", got, addr)
		}
	}
}

func TestDecodeRejectsShortBuffers(t *testing.T) {
	buf, _ := Encode(molt.Inet4Address{Port: 80, Addr: [4]byte{1, 2, 3, 4}})
	if _, err := Decode(buf[:len(buf)-1]); err == nil {
		t.Fatalf("Decode should reject a truncated IPv4 buffer")
	}
}

func TestDecodeRejectsUnknownFamily(t *testing.T) {
	buf := []byte{0xff, 0xff, 0, 0}
	if _, err := Decode(buf); err == nil {
		t.Fatalf("Decode should reject an unknown family")
	}
}

func TestInetPtonNtopRoundTrip(t *testing.T) {
	packed, err := InetPton(molt.InetFamily, "127.0.0.1")
	if err != nil {
		t.Fatalf("InetPton: %v", err)
	}
	text, err := InetNtop(molt.InetFamily, packed)
	if err != nil {
		t.Fatalf("InetNtop: %v", err)
	}
	if text != "127.0.0.1" {
		t.Errorf("InetNtop = %q, want 127.0.0.1", text)
	}
}
