package tion

import (
	"encoding/binary"
	"fmt"
)

// S3 GATT endpoints (Nordic-style vendor service).
const (
	s3ServiceUUID = "98f00001-3788-83ea-453e-f52244709ddb"
	s3WriteUUID   = "98f00002-3788-83ea-453e-f52244709ddb"
	s3StatusUUID  = "98f00003-3788-83ea-453e-f52244709ddb"
)

// S3 frame constants.
const (
	s3ReqMagic   = 0x3D
	s3RespMagic  = 0xB3
	s3FrameEnd   = 0x5A
	s3OpStatus   = 0x01
	s3OpSetSpeed = 0x02
	s3OpSetMode  = 0x03
	s3RespStatus = 0x10

	s3ReqLen  = 8
	s3RespLen = 20
)

// S3 status flag bits.
const (
	flagPower  = 1 << 0
	flagHeater = 1 << 1
	flagSound  = 1 << 2
	flagLight  = 1 << 3
)

// s3Codec speaks the S3 firmware protocol: fixed 8-byte requests and 20-byte
// status frames, both guarded by an XOR checksum.
type s3Codec struct{}

func (s3Codec) Model() Model  { return ModelS3 }
func (s3Codec) MaxSpeed() int { return 6 }
func (s3Codec) Capabilities() Capabilities {
	return Capabilities{Heater: true, Modes: false, Light: false}
}

func (s3Codec) ServiceUUID() string    { return s3ServiceUUID }
func (s3Codec) WriteCharUUID() string  { return s3WriteUUID }
func (s3Codec) StatusCharUUID() string { return s3StatusUUID }

// xorChecksum folds all bytes into one. The S3 firmware rejects frames whose
// checksum byte does not match.
func xorChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

func s3Request(op, arg byte) []byte {
	frame := make([]byte, s3ReqLen)
	frame[0] = s3ReqMagic
	frame[1] = op
	frame[2] = arg
	frame[s3ReqLen-2] = xorChecksum(frame[:s3ReqLen-2])
	frame[s3ReqLen-1] = s3FrameEnd
	return frame
}

func (s3Codec) EncodeStatusRequest() []byte {
	return s3Request(s3OpStatus, 0)
}

func (c s3Codec) EncodeSetSpeed(level int) ([]byte, error) {
	if level < 0 || level > c.MaxSpeed() {
		return nil, fmt.Errorf("speed %d out of range 0..%d", level, c.MaxSpeed())
	}
	return s3Request(s3OpSetSpeed, byte(level)), nil
}

func (s3Codec) EncodeSetMode(mode Mode) ([]byte, error) {
	if mode > ModeMixed {
		return nil, fmt.Errorf("invalid mode %d", mode)
	}
	return s3Request(s3OpSetMode, byte(mode)), nil
}

// DecodeStatus parses an S3 status frame:
//
//	[0]    0xB3 magic
//	[1]    0x10 status opcode
//	[2]    flag bits (power, heater, sound)
//	[3]    fan speed
//	[4]    mode
//	[5]    heater target temperature
//	[6]    incoming air temperature (signed)
//	[7]    outgoing air temperature (signed)
//	[8]    relative humidity, percent
//	[9:11] CO2 ppm, little-endian
//	[11:13] filter days left, little-endian
//	[13]   firmware error flags
//	[19]   XOR checksum of bytes 0..18
func (c s3Codec) DecodeStatus(frame []byte) (Reading, error) {
	if len(frame) != s3RespLen {
		return Reading{}, &ProtocolError{Reason: fmt.Sprintf("status frame is %d bytes, want %d", len(frame), s3RespLen)}
	}
	if frame[0] != s3RespMagic || frame[1] != s3RespStatus {
		return Reading{}, &ProtocolError{Reason: fmt.Sprintf("unexpected frame header %#02x %#02x", frame[0], frame[1])}
	}
	if got, want := frame[s3RespLen-1], xorChecksum(frame[:s3RespLen-1]); got != want {
		return Reading{}, &ProtocolError{Reason: fmt.Sprintf("checksum mismatch: got %#02x, want %#02x", got, want)}
	}
	return decodeStatusBody(frame[2:14], c.MaxSpeed())
}

// decodeStatusBody parses the 12-byte status body shared by all families and
// validates sensor domains. Layout matches the S3 frame bytes 2..13.
func decodeStatusBody(body []byte, maxSpeed int) (Reading, error) {
	if len(body) != 12 {
		return Reading{}, &ProtocolError{Reason: fmt.Sprintf("status body is %d bytes, want 12", len(body))}
	}

	flags := body[0]
	r := Reading{
		PowerOn:    flags&flagPower != 0,
		HeaterOn:   flags&flagHeater != 0,
		SoundOn:    flags&flagSound != 0,
		LightOn:    flags&flagLight != 0,
		Speed:      int(body[1]),
		Mode:       Mode(body[2]),
		HeaterTemp: int(body[3]),
		InTemp:     int(int8(body[4])),
		OutTemp:    int(int8(body[5])),
		Humidity:   int(body[6]),
		CO2:        int(binary.LittleEndian.Uint16(body[7:9])),
		FilterDays: int(binary.LittleEndian.Uint16(body[9:11])),
		Errors:     ErrorFlags(body[11]),
	}

	if r.Speed > maxSpeed {
		return Reading{}, &ProtocolError{Reason: fmt.Sprintf("fan speed %d outside 0..%d", r.Speed, maxSpeed)}
	}
	if r.Mode > ModeMixed {
		return Reading{}, &ProtocolError{Reason: fmt.Sprintf("unknown mode value %d", body[2])}
	}
	if r.CO2 > MaxCO2 {
		return Reading{}, &ProtocolError{Reason: fmt.Sprintf("CO2 value %d ppm outside 0..%d", r.CO2, MaxCO2)}
	}
	if r.Humidity > 100 {
		return Reading{}, &ProtocolError{Reason: fmt.Sprintf("humidity %d%% outside 0..100", r.Humidity)}
	}
	return r, nil
}
