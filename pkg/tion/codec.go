package tion

import (
	"fmt"
	"strings"
)

// Model identifies a Tion device family. The family decides which GATT
// characteristics to talk to and which frame format the firmware speaks.
type Model string

const (
	ModelS3   Model = "S3"
	ModelLite Model = "Lite"
	ModelS4   Model = "S4"
)

// DetectModel infers the device family from the advertised BLE name, the way
// breezers announce themselves ("Tion_Breezer_S3_XXXX" and similar).
func DetectModel(advertisedName string) Model {
	switch {
	case strings.Contains(advertisedName, "S3"):
		return ModelS3
	case strings.Contains(advertisedName, "Lite"):
		return ModelLite
	case strings.Contains(advertisedName, "S4"):
		return ModelS4
	default:
		return ModelS3
	}
}

// ParseModel converts a configuration string to a Model.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s3":
		return ModelS3, nil
	case "lite":
		return ModelLite, nil
	case "s4":
		return ModelS4, nil
	default:
		return "", fmt.Errorf("unknown model %q (must be s3, lite or s4)", s)
	}
}

// Capabilities reports what a device family can do. Commands outside the
// capability set are rejected before any transport traffic.
type Capabilities struct {
	Heater bool
	Modes  bool // mixed/recirculation switching
	Light  bool
}

// Codec encodes commands into firmware frames and decodes status frames for
// one device family. Implementations are stateless and safe for concurrent
// use.
type Codec interface {
	Model() Model
	MaxSpeed() int
	Capabilities() Capabilities

	// ServiceUUID and the characteristic UUIDs identify the GATT endpoints
	// this family exposes.
	ServiceUUID() string
	WriteCharUUID() string
	StatusCharUUID() string

	EncodeStatusRequest() []byte
	EncodeSetSpeed(level int) ([]byte, error)
	EncodeSetMode(mode Mode) ([]byte, error)

	// DecodeStatus parses a status frame. A malformed frame or an
	// out-of-domain sensor value yields a *ProtocolError.
	DecodeStatus(frame []byte) (Reading, error)
}

// NewCodec returns the codec for a device family.
func NewCodec(model Model) (Codec, error) {
	switch model {
	case ModelS3:
		return s3Codec{}, nil
	case ModelLite:
		return liteCodec{}, nil
	case ModelS4:
		return s4Codec{}, nil
	default:
		return nil, fmt.Errorf("no codec for model %q", model)
	}
}
