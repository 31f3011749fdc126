package hdhomerun

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

/*
 * HDHomeRun packet format (from libhdhomerun):
 *
 * All values are big-endian except CRC which is little-endian.
 *
 * uint16_t  Packet type
 * uint16_t  Payload length (bytes)
 * uint8_t[] Payload data (0-n bytes)
 * uint32_t  CRC (Ethernet style 32-bit CRC)
 */

// Packet types
const (
	TypeDiscoverReq = 0x0002
	TypeDiscoverRpy = 0x0003
	TypeGetSetReq   = 0x0004
	TypeGetSetRpy   = 0x0005
)

// Tags for TLV format
const (
	TagDeviceType    = 0x01
	TagDeviceID      = 0x02
	TagGetSetName    = 0x03
	TagGetSetValue   = 0x04
	TagErrorMessage  = 0x05
	TagTunerCount    = 0x10
	TagDeviceLegacy  = 0x11
	TagLineupURL     = 0x27
	TagStorageURL    = 0x28
	TagBaseURL       = 0x2A
	TagDeviceAuthStr = 0x2B
	TagStorageID     = 0x2C
)

// Device types
const (
	DeviceTypeWildcard = 0xFFFFFFFF
	DeviceTypeTuner    = 0x00000001
	DeviceTypeStorage  = 0x00000005
)

// DeviceIDWildcard matches any device id in a discover request.
const DeviceIDWildcard = 0xFFFFFFFF

var crc32Table = crc32.MakeTable(crc32.IEEE)

// Packet is one framed HDHomeRun datagram.
type Packet struct {
	Type    uint16
	Payload []byte
}

// Marshal serializes the packet, appending the CRC.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, 4+len(p.Payload)+4)
	binary.BigEndian.PutUint16(buf[0:2], p.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(p.Payload)))
	copy(buf[4:], p.Payload)
	crc := crc32.Checksum(buf[:4+len(p.Payload)], crc32Table)
	binary.LittleEndian.PutUint32(buf[4+len(p.Payload):], crc)
	return buf
}

// Unmarshal parses and CRC-checks a packet.
func Unmarshal(data []byte) (*Packet, error) {
	if len(data) < 8 {
		return nil, errors.New("packet too short")
	}
	packetType := binary.BigEndian.Uint16(data[0:2])
	length := binary.BigEndian.Uint16(data[2:4])
	if len(data) < 4+int(length)+4 {
		return nil, fmt.Errorf("packet truncated: need %d, got %d", 4+int(length)+4, len(data))
	}
	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		copy(payload, data[4:4+length])
	}
	received := binary.LittleEndian.Uint32(data[4+length:])
	calculated := crc32.Checksum(data[:4+length], crc32Table)
	if received != calculated {
		return nil, fmt.Errorf("CRC mismatch: got 0x%08x, expected 0x%08x", received, calculated)
	}
	return &Packet{Type: packetType, Payload: payload}, nil
}

// TLV is a Tag-Length-Value item in a packet payload.
type TLV struct {
	Tag   uint8
	Value []byte
}

// UnmarshalTLVs parses TLV items from a payload. Lengths below 128 take one
// byte; longer values set the high bit of the first length byte.
func UnmarshalTLVs(payload []byte) ([]TLV, error) {
	var tlvs []TLV
	pos := 0
	for pos < len(payload) {
		if pos+2 > len(payload) {
			return nil, errors.New("truncated TLV")
		}
		tag := payload[pos]
		pos++
		length := int(payload[pos] & 0x7F)
		pos++
		if payload[pos-1]&0x80 != 0 {
			if pos >= len(payload) {
				return nil, errors.New("truncated TLV length")
			}
			length = (length << 7) | int(payload[pos])
			pos++
		}
		if pos+length > len(payload) {
			return nil, fmt.Errorf("truncated TLV value: need %d, have %d", length, len(payload)-pos)
		}
		value := make([]byte, length)
		copy(value, payload[pos:pos+length])
		pos += length
		tlvs = append(tlvs, TLV{Tag: tag, Value: value})
	}
	return tlvs, nil
}

// MarshalTLVs serializes TLV items to a payload.
func MarshalTLVs(tlvs []TLV) []byte {
	size := 0
	for _, tlv := range tlvs {
		size += 3 + len(tlv.Value)
	}
	buf := make([]byte, 0, size)
	for _, tlv := range tlvs {
		buf = append(buf, tlv.Tag)
		n := len(tlv.Value)
		if n < 128 {
			buf = append(buf, uint8(n))
		} else {
			buf = append(buf, uint8(0x80|((n>>7)&0x7F)), uint8(n&0x7F))
		}
		buf = append(buf, tlv.Value...)
	}
	return buf
}

// FindTLV returns the first TLV with tag, or nil.
func FindTLV(tlvs []TLV, tag uint8) *TLV {
	for i := range tlvs {
		if tlvs[i].Tag == tag {
			return &tlvs[i]
		}
	}
	return nil
}

// NewDiscoverReq builds a discover request for the given type/id filters.
func NewDiscoverReq(deviceType, deviceID uint32) *Packet {
	tlvs := []TLV{
		{Tag: TagDeviceType, Value: uint32ToBytes(deviceType)},
		{Tag: TagDeviceID, Value: uint32ToBytes(deviceID)},
	}
	return &Packet{Type: TypeDiscoverReq, Payload: MarshalTLVs(tlvs)}
}

// DiscoverReply is a parsed discover response from one device. Addr is not
// on the wire; the discovery client fills it from the response source.
type DiscoverReply struct {
	Addr       string
	DeviceID   uint32
	DeviceType uint32
	TunerCount int
	BaseURL    string
	LineupURL  string
	DeviceAuth string
	Legacy     bool
}

// ParseDiscoverReply decodes a TypeDiscoverRpy payload. Devices without a
// DeviceID TLV (storage-only units) are rejected.
func ParseDiscoverReply(p *Packet) (*DiscoverReply, error) {
	if p.Type != TypeDiscoverRpy {
		return nil, fmt.Errorf("unexpected packet type 0x%04x", p.Type)
	}
	tlvs, err := UnmarshalTLVs(p.Payload)
	if err != nil {
		return nil, err
	}
	r := &DiscoverReply{DeviceType: DeviceTypeTuner}
	id := FindTLV(tlvs, TagDeviceID)
	if id == nil || len(id.Value) < 4 {
		return nil, errors.New("discover reply missing device id")
	}
	r.DeviceID = binary.BigEndian.Uint32(id.Value)
	if dt := FindTLV(tlvs, TagDeviceType); dt != nil && len(dt.Value) >= 4 {
		r.DeviceType = binary.BigEndian.Uint32(dt.Value)
	}
	if tc := FindTLV(tlvs, TagTunerCount); tc != nil && len(tc.Value) >= 1 {
		r.TunerCount = int(tc.Value[0])
	}
	if v := FindTLV(tlvs, TagBaseURL); v != nil {
		r.BaseURL = cstring(v.Value)
	}
	if v := FindTLV(tlvs, TagLineupURL); v != nil {
		r.LineupURL = cstring(v.Value)
	}
	if v := FindTLV(tlvs, TagDeviceAuthStr); v != nil {
		r.DeviceAuth = cstring(v.Value)
	}
	if v := FindTLV(tlvs, TagDeviceLegacy); v != nil && len(v.Value) >= 1 {
		r.Legacy = v.Value[0] != 0
	}
	return r, nil
}

// NewDiscoverRpy builds a discover response; used by tests standing in for a device.
func NewDiscoverRpy(r *DiscoverReply) *Packet {
	tlvs := []TLV{
		{Tag: TagDeviceType, Value: uint32ToBytes(r.DeviceType)},
		{Tag: TagDeviceID, Value: uint32ToBytes(r.DeviceID)},
		{Tag: TagTunerCount, Value: []byte{uint8(r.TunerCount)}},
	}
	if r.BaseURL != "" {
		tlvs = append(tlvs, TLV{Tag: TagBaseURL, Value: append([]byte(r.BaseURL), 0)})
	}
	if r.LineupURL != "" {
		tlvs = append(tlvs, TLV{Tag: TagLineupURL, Value: append([]byte(r.LineupURL), 0)})
	}
	if r.DeviceAuth != "" {
		tlvs = append(tlvs, TLV{Tag: TagDeviceAuthStr, Value: append([]byte(r.DeviceAuth), 0)})
	}
	if r.Legacy {
		tlvs = append(tlvs, TLV{Tag: TagDeviceLegacy, Value: []byte{1}})
	}
	return &Packet{Type: TypeDiscoverRpy, Payload: MarshalTLVs(tlvs)}
}

// cstring strips the trailing null the wire format carries on strings.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
