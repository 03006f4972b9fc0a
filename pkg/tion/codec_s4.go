package tion

import (
	"encoding/binary"
	"fmt"
)

// S4/Lite GATT endpoints. The newer families share a service but speak a
// length-prefixed, CRC16-guarded frame format instead of the S3 one.
const (
	s4ServiceUUID = "98f00001-3788-83ea-453e-f52244709ddb"
	s4WriteUUID   = "98f00004-3788-83ea-453e-f52244709ddb"
	s4StatusUUID  = "98f00005-3788-83ea-453e-f52244709ddb"
)

const (
	s4Magic      = 0x80
	s4OpStatus   = 0x32
	s4OpSetSpeed = 0x33
	s4OpSetMode  = 0x34
	s4RespStatus = 0x31
)

// crc16 computes CRC16-CCITT (0xFFFF seed), the checksum used by S4 and Lite
// firmware frames.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// s4Frame builds a framed payload: magic, total length, payload, CRC16
// big-endian over everything before the CRC.
func s4Frame(payload []byte) []byte {
	total := 2 + len(payload) + 2
	frame := make([]byte, 0, total)
	frame = append(frame, s4Magic, byte(total))
	frame = append(frame, payload...)
	return binary.BigEndian.AppendUint16(frame, crc16(frame))
}

// s4ParseFrame validates framing and returns the payload.
func s4ParseFrame(frame []byte) ([]byte, error) {
	if len(frame) < 5 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame too short: %d bytes", len(frame))}
	}
	if frame[0] != s4Magic {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unexpected frame magic %#02x", frame[0])}
	}
	if int(frame[1]) != len(frame) {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame length byte %d does not match %d bytes received", frame[1], len(frame))}
	}
	body, tail := frame[:len(frame)-2], frame[len(frame)-2:]
	if got, want := binary.BigEndian.Uint16(tail), crc16(body); got != want {
		return nil, &ProtocolError{Reason: fmt.Sprintf("CRC mismatch: got %#04x, want %#04x", got, want)}
	}
	return body[2:], nil
}

// s4Codec speaks the S4 firmware protocol.
type s4Codec struct{}

func (s4Codec) Model() Model  { return ModelS4 }
func (s4Codec) MaxSpeed() int { return 6 }
func (s4Codec) Capabilities() Capabilities {
	return Capabilities{Heater: true, Modes: true, Light: false}
}

func (s4Codec) ServiceUUID() string    { return s4ServiceUUID }
func (s4Codec) WriteCharUUID() string  { return s4WriteUUID }
func (s4Codec) StatusCharUUID() string { return s4StatusUUID }

func (s4Codec) EncodeStatusRequest() []byte {
	return s4Frame([]byte{s4OpStatus})
}

func (c s4Codec) EncodeSetSpeed(level int) ([]byte, error) {
	if level < 0 || level > c.MaxSpeed() {
		return nil, fmt.Errorf("speed %d out of range 0..%d", level, c.MaxSpeed())
	}
	return s4Frame([]byte{s4OpSetSpeed, byte(level)}), nil
}

func (s4Codec) EncodeSetMode(mode Mode) ([]byte, error) {
	if mode > ModeMixed {
		return nil, fmt.Errorf("invalid mode %d", mode)
	}
	return s4Frame([]byte{s4OpSetMode, byte(mode)}), nil
}

func (c s4Codec) DecodeStatus(frame []byte) (Reading, error) {
	payload, err := s4ParseFrame(frame)
	if err != nil {
		return Reading{}, err
	}
	if len(payload) == 0 || payload[0] != s4RespStatus {
		return Reading{}, &ProtocolError{Reason: "frame is not a status response"}
	}
	return decodeStatusBody(payload[1:], c.MaxSpeed())
}

// liteCodec is the Lite family variant of the S4 protocol. Lite has no heater
// and no mode switching, but carries an LED light flag in the status body.
type liteCodec struct{}

func (liteCodec) Model() Model  { return ModelLite }
func (liteCodec) MaxSpeed() int { return 6 }
func (liteCodec) Capabilities() Capabilities {
	return Capabilities{Heater: false, Modes: false, Light: true}
}

func (liteCodec) ServiceUUID() string    { return s4ServiceUUID }
func (liteCodec) WriteCharUUID() string  { return s4WriteUUID }
func (liteCodec) StatusCharUUID() string { return s4StatusUUID }

func (liteCodec) EncodeStatusRequest() []byte {
	return s4Frame([]byte{s4OpStatus})
}

func (c liteCodec) EncodeSetSpeed(level int) ([]byte, error) {
	if level < 0 || level > c.MaxSpeed() {
		return nil, fmt.Errorf("speed %d out of range 0..%d", level, c.MaxSpeed())
	}
	return s4Frame([]byte{s4OpSetSpeed, byte(level)}), nil
}

// EncodeSetMode accepts only ModeOutside. A Lite has no damper to move, so
// the exchange degrades to a status request confirming the already-true
// state.
func (c liteCodec) EncodeSetMode(mode Mode) ([]byte, error) {
	if mode != ModeOutside {
		return nil, fmt.Errorf("lite devices only take outside air")
	}
	return c.EncodeStatusRequest(), nil
}

func (c liteCodec) DecodeStatus(frame []byte) (Reading, error) {
	payload, err := s4ParseFrame(frame)
	if err != nil {
		return Reading{}, err
	}
	if len(payload) == 0 || payload[0] != s4RespStatus {
		return Reading{}, &ProtocolError{Reason: "frame is not a status response"}
	}
	return decodeStatusBody(payload[1:], c.MaxSpeed())
}
