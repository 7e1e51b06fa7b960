package resolver

import (
	"encoding/binary"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/addrcodec"
)

// EncodeAddrInfoList serializes a Lookup result using the envelope the
// sandboxed host side exchanges over the wasm memory boundary:
//
//	out: u32 count
//	for each:
//	  family: i32, type: i32, proto: i32,
//	  canon_len: u32, canon: bytes,
//	  addr_len: u32, addr: encoded sockaddr (addrcodec)
func EncodeAddrInfoList(results []AddrInfo) ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(results)))

	for _, r := range results {
		var row [12]byte
		binary.LittleEndian.PutUint32(row[0:4], uint32(int32(r.Family)))
		binary.LittleEndian.PutUint32(row[4:8], uint32(int32(r.Type)))
		binary.LittleEndian.PutUint32(row[8:12], uint32(int32(r.Proto)))
		buf = append(buf, row[:]...)

		canon := []byte(r.CanonName)
		var canonLen [4]byte
		binary.LittleEndian.PutUint32(canonLen[:], uint32(len(canon)))
		buf = append(buf, canonLen[:]...)
		buf = append(buf, canon...)

		addrBytes, err := addrcodec.Encode(r.Addr)
		if err != nil {
			return nil, err
		}
		var addrLen [4]byte
		binary.LittleEndian.PutUint32(addrLen[:], uint32(len(addrBytes)))
		buf = append(buf, addrLen[:]...)
		buf = append(buf, addrBytes...)
	}
	return buf, nil
}

// DecodeAddrInfoList parses the envelope EncodeAddrInfoList produces. The
// guest side uses this after an insufficient-buffer retry to read back
// what the host wrote.
func DecodeAddrInfoList(buf []byte) ([]AddrInfo, error) {
	if len(buf) < 4 {
		return nil, &molt.ValueError{Msg: "addrinfo envelope too short"}
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	results := make([]AddrInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+12 > len(buf) {
			return nil, &molt.ValueError{Msg: "addrinfo envelope truncated"}
		}
		family := molt.ProtocolFamily(int32(binary.LittleEndian.Uint32(buf[off : off+4])))
		typ := molt.SocketType(int32(binary.LittleEndian.Uint32(buf[off+4 : off+8])))
		proto := molt.Protocol(int32(binary.LittleEndian.Uint32(buf[off+8 : off+12])))
		off += 12

		if off+4 > len(buf) {
			return nil, &molt.ValueError{Msg: "addrinfo envelope truncated"}
		}
		canonLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+canonLen > len(buf) {
			return nil, &molt.ValueError{Msg: "addrinfo envelope truncated"}
		}
		canon := string(buf[off : off+canonLen])
		off += canonLen

		if off+4 > len(buf) {
			return nil, &molt.ValueError{Msg: "addrinfo envelope truncated"}
		}
		addrLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+addrLen > len(buf) {
			return nil, &molt.ValueError{Msg: "addrinfo envelope truncated"}
		}
		addr, err := addrcodec.Decode(buf[off : off+addrLen])
		if err != nil {
			return nil, err
		}
		off += addrLen

		results = append(results, AddrInfo{Family: family, Type: typ, Proto: proto, CanonName: canon, Addr: addr})
	}
	return results, nil
}
