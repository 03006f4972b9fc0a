package testutils

import (
	"encoding/binary"

	"github.com/tion-home/tionctl/pkg/tion"
)

// statusBody packs a Reading into the 12-byte body shared by all firmware
// families.
func statusBody(r tion.Reading) []byte {
	var flags byte
	if r.PowerOn {
		flags |= 1 << 0
	}
	if r.HeaterOn {
		flags |= 1 << 1
	}
	if r.SoundOn {
		flags |= 1 << 2
	}
	if r.LightOn {
		flags |= 1 << 3
	}

	body := make([]byte, 12)
	body[0] = flags
	body[1] = byte(r.Speed)
	body[2] = byte(r.Mode)
	body[3] = byte(r.HeaterTemp)
	body[4] = byte(int8(r.InTemp))
	body[5] = byte(int8(r.OutTemp))
	body[6] = byte(r.Humidity)
	binary.LittleEndian.PutUint16(body[7:9], uint16(r.CO2))
	binary.LittleEndian.PutUint16(body[9:11], uint16(r.FilterDays))
	body[11] = byte(r.Errors)
	return body
}

// S3StatusFrame builds a valid 20-byte S3 status frame for a reading.
func S3StatusFrame(r tion.Reading) []byte {
	frame := make([]byte, 20)
	frame[0] = 0xB3
	frame[1] = 0x10
	copy(frame[2:14], statusBody(r))
	var sum byte
	for _, b := range frame[:19] {
		sum ^= b
	}
	frame[19] = sum
	return frame
}

// S4StatusFrame builds a valid length-prefixed, CRC16-guarded status frame
// as S4 and Lite firmware produce it.
func S4StatusFrame(r tion.Reading) []byte {
	payload := append([]byte{0x31}, statusBody(r)...)
	frame := make([]byte, 0, 2+len(payload)+2)
	frame = append(frame, 0x80, byte(2+len(payload)+2))
	frame = append(frame, payload...)
	return binary.BigEndian.AppendUint16(frame, crc16(frame))
}

// crc16 is CRC16-CCITT with 0xFFFF seed, matching the S4 firmware checksum.
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
