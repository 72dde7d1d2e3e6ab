// Package zkdevice implements a minimal session against the ZKTeco
// device protocol on port 4370: connect, drain the on-device
// attendance buffer, disconnect.
//
// The device cannot range-query its buffer, so fetches are always the
// full log; windowing and deduplication happen downstream in the
// ingestion pipeline.
package zkdevice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// =============================================================================
// PROTOCOL CONSTANTS
// =============================================================================

// Command codes used by the device protocol.
const (
	cmdConnect     uint16 = 1000
	cmdExit        uint16 = 1001
	cmdAttLogRead  uint16 = 13
	cmdAckOK       uint16 = 2000
	cmdAckError    uint16 = 2001
	cmdAckUnauth   uint16 = 2005
	cmdPrepareData uint16 = 1500
	cmdData        uint16 = 1501
)

// tcpMagic prefixes every TCP frame.
var tcpMagic = []byte{0x50, 0x50, 0x82, 0x7d}

const (
	headerSize = 8 // command, checksum, session, reply — all uint16 LE

	// attendanceRecordSize is the on-wire size of one attendance entry
	// over TCP: uid(2) userID(24) verify(1) timestamp(4) punch(1) pad(8).
	attendanceRecordSize = 40
)

// Attendance is one punch read from the device buffer.
type Attendance struct {
	UserID    string
	Timestamp time.Time
	Punch     int
	Verify    int
}

// packet is a decoded protocol frame.
type packet struct {
	Command uint16
	Session uint16
	Reply   uint16
	Data    []byte
}

// =============================================================================
// FRAMING
// =============================================================================

// checksum computes the 16-bit ones'-complement checksum the device
// expects over the header (with a zeroed checksum field) and data.
func checksum(buf []byte) uint16 {
	var sum uint32
	i := 0
	for ; i+1 < len(buf); i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(buf[i:]))
	}
	if i < len(buf) {
		sum += uint32(buf[i])
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(^sum) & 0xFFFF
}

// encodePacket frames a command for the wire: TCP magic + length, then
// the checksummed header and data.
func encodePacket(p packet) []byte {
	payload := make([]byte, headerSize+len(p.Data))
	binary.LittleEndian.PutUint16(payload[0:], p.Command)
	// checksum field stays zero while summing
	binary.LittleEndian.PutUint16(payload[4:], p.Session)
	binary.LittleEndian.PutUint16(payload[6:], p.Reply)
	copy(payload[headerSize:], p.Data)
	binary.LittleEndian.PutUint16(payload[2:], checksum(payload))

	frame := make([]byte, len(tcpMagic)+4+len(payload))
	copy(frame, tcpMagic)
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame
}

// decodePayload parses the checksummed header and data of one frame.
func decodePayload(payload []byte) (packet, error) {
	if len(payload) < headerSize {
		return packet{}, fmt.Errorf("short payload: %d bytes", len(payload))
	}
	p := packet{
		Command: binary.LittleEndian.Uint16(payload[0:]),
		Session: binary.LittleEndian.Uint16(payload[4:]),
		Reply:   binary.LittleEndian.Uint16(payload[6:]),
	}
	if len(payload) > headerSize {
		p.Data = append([]byte(nil), payload[headerSize:]...)
	}
	return p, nil
}

// =============================================================================
// TIMESTAMPS
// =============================================================================

// decodeTime expands the device's packed 32-bit timestamp.
func decodeTime(val uint32) time.Time {
	second := int(val % 60)
	val /= 60
	minute := int(val % 60)
	val /= 60
	hour := int(val % 24)
	val /= 24
	day := int(val%31) + 1
	val /= 31
	month := time.Month(val%12) + 1
	val /= 12
	year := int(val) + 2000
	return time.Date(year, month, day, hour, minute, second, 0, time.Local)
}

// encodeTime packs a timestamp into the device's 32-bit format.
func encodeTime(t time.Time) uint32 {
	days := uint32(t.Year()-2000)*12*31 + uint32(t.Month()-1)*31 + uint32(t.Day()-1)
	return days*24*60*60 + uint32(t.Hour()*3600+t.Minute()*60+t.Second())
}

// =============================================================================
// ATTENDANCE RECORDS
// =============================================================================

// parseAttendance decodes the raw attendance buffer into records,
// preserving device order. A trailing partial record is dropped.
func parseAttendance(data []byte) []Attendance {
	records := make([]Attendance, 0, len(data)/attendanceRecordSize)
	for len(data) >= attendanceRecordSize {
		rec := data[:attendanceRecordSize]
		data = data[attendanceRecordSize:]

		userID := string(bytes.TrimRight(rec[2:26], "\x00"))
		records = append(records, Attendance{
			UserID:    userID,
			Verify:    int(rec[26]),
			Timestamp: decodeTime(binary.LittleEndian.Uint32(rec[27:31])),
			Punch:     int(rec[31]),
		})
	}
	return records
}

// encodeAttendance renders a record in wire format. Used by tests and
// protocol tooling.
func encodeAttendance(rec Attendance, uid uint16) []byte {
	buf := make([]byte, attendanceRecordSize)
	binary.LittleEndian.PutUint16(buf[0:], uid)
	copy(buf[2:26], rec.UserID)
	buf[26] = byte(rec.Verify)
	binary.LittleEndian.PutUint32(buf[27:31], encodeTime(rec.Timestamp))
	buf[31] = byte(rec.Punch)
	return buf
}
