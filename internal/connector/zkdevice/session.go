package zkdevice

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultPort is the device protocol port. Only this port selects
// device mode; the REST API is used everywhere else.
const DefaultPort = 4370

// Session is a stateful connection to a device. It is not safe for
// concurrent use; the run coordinator serializes access via its lease.
type Session struct {
	conn    net.Conn
	timeout time.Duration
	session uint16
	reply   uint16
}

// Dial connects to a device and performs the protocol handshake.
func Dial(ip string, port int, timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip, port), timeout)
	if err != nil {
		return nil, fmt.Errorf("dial device %s:%d: %w", ip, port, err)
	}
	s := &Session{conn: conn, timeout: timeout}
	if err := s.connect(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession wraps an established connection and performs the
// handshake. Split out from Dial for tests.
func NewSession(conn net.Conn, timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Session{conn: conn, timeout: timeout}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) connect() error {
	resp, err := s.roundTrip(cmdConnect, nil)
	if err != nil {
		return fmt.Errorf("device handshake: %w", err)
	}
	if resp.Command != cmdAckOK {
		return fmt.Errorf("device handshake refused: command %d", resp.Command)
	}
	s.session = resp.Session
	return nil
}

// AttendanceLog drains the device's full on-device attendance buffer.
func (s *Session) AttendanceLog() ([]Attendance, error) {
	resp, err := s.roundTrip(cmdAttLogRead, nil)
	if err != nil {
		return nil, fmt.Errorf("read attendance log: %w", err)
	}

	switch resp.Command {
	case cmdAckOK:
		// Empty buffer.
		return nil, nil
	case cmdData:
		return parseAttendance(resp.Data), nil
	case cmdPrepareData:
		data, err := s.readPrepared(resp)
		if err != nil {
			return nil, err
		}
		return parseAttendance(data), nil
	default:
		return nil, fmt.Errorf("unexpected attendance response: command %d", resp.Command)
	}
}

// readPrepared collects CMD_DATA chunks announced by CMD_PREPARE_DATA
// until the advertised size is reached, then consumes the final ack.
func (s *Session) readPrepared(prep packet) ([]byte, error) {
	if len(prep.Data) < 4 {
		return nil, fmt.Errorf("prepare-data without size")
	}
	total := int(binary.LittleEndian.Uint32(prep.Data[0:4]))

	data := make([]byte, 0, total)
	for len(data) < total {
		p, err := s.readPacket()
		if err != nil {
			return nil, fmt.Errorf("read data chunk: %w", err)
		}
		if p.Command != cmdData {
			return nil, fmt.Errorf("expected data chunk, got command %d", p.Command)
		}
		data = append(data, p.Data...)
	}

	// Trailing CMD_ACK_OK terminates the transfer.
	if p, err := s.readPacket(); err != nil {
		return nil, fmt.Errorf("read transfer ack: %w", err)
	} else if p.Command != cmdAckOK {
		return nil, fmt.Errorf("transfer not acknowledged: command %d", p.Command)
	}

	if len(data) > total {
		data = data[:total]
	}
	return data, nil
}

// Disconnect ends the session and closes the connection.
func (s *Session) Disconnect() error {
	_, err := s.roundTrip(cmdExit, nil)
	closeErr := s.conn.Close()
	if err != nil {
		return fmt.Errorf("device exit: %w", err)
	}
	return closeErr
}

// =============================================================================
// WIRE I/O
// =============================================================================

func (s *Session) roundTrip(command uint16, data []byte) (packet, error) {
	s.reply++
	frame := encodePacket(packet{
		Command: command,
		Session: s.session,
		Reply:   s.reply,
		Data:    data,
	})

	if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return packet{}, err
	}
	if _, err := s.conn.Write(frame); err != nil {
		return packet{}, fmt.Errorf("write command %d: %w", command, err)
	}
	return s.readPacket()
}

func (s *Session) readPacket() (packet, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return packet{}, err
	}

	prefix := make([]byte, 8)
	if _, err := io.ReadFull(s.conn, prefix); err != nil {
		return packet{}, err
	}
	if string(prefix[:4]) != string(tcpMagic) {
		return packet{}, fmt.Errorf("bad frame magic % x", prefix[:4])
	}
	size := binary.LittleEndian.Uint32(prefix[4:])
	if size < headerSize || size > 1<<20 {
		return packet{}, fmt.Errorf("implausible frame size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return packet{}, err
	}
	return decodePayload(payload)
}
