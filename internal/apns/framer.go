package apns

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// CommandSimple is the legacy "simple notification" command id.
	CommandSimple byte = 0

	// TokenLength is the size of a decoded device token.
	TokenLength = 32

	// MaxPayloadLength is the largest JSON payload the frame can carry.
	// The high byte of the payload length is always zero, so the length
	// must fit in a single byte.
	MaxPayloadLength = 255

	// HeaderLength is the number of frame bytes preceding the JSON payload.
	HeaderLength = 1 + 2 + TokenLength + 2

	// DefaultSound is the sound name attached to every alert.
	DefaultSound = "default"
)

// Payload is the JSON document carried by a frame.
type Payload struct {
	APS APS `json:"aps"`
}

// APS is the reserved "aps" dictionary.
type APS struct {
	Alert string `json:"alert"`
	Sound string `json:"sound"`
}

// DecodeToken strips whitespace from a hex device token and decodes it.
func DecodeToken(deviceToken string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, deviceToken)

	if clean == "" {
		return nil, &EncodingError{Reason: "empty device token"}
	}
	if len(clean)%2 != 0 {
		return nil, &EncodingError{Reason: fmt.Sprintf("device token has odd length %d", len(clean))}
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, &EncodingError{Reason: "device token is not hex", Err: err}
	}
	if len(raw) != TokenLength {
		return nil, &EncodingError{Reason: fmt.Sprintf("device token is %d bytes, want %d", len(raw), TokenLength)}
	}
	return raw, nil
}

// MarshalPayload renders the alert JSON for message. HTML characters are
// left unescaped so they cost one byte each against the length cap.
func MarshalPayload(message string) ([]byte, error) {
	if !utf8.ValidString(message) {
		return nil, &EncodingError{Reason: "message is not valid UTF-8"}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Payload{APS: APS{Alert: message, Sound: DefaultSound}}); err != nil {
		return nil, &EncodingError{Reason: "marshal payload", Err: err}
	}
	b := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if len(b) > MaxPayloadLength {
		return nil, &EncodingError{Reason: fmt.Sprintf("payload is %d bytes, max %d", len(b), MaxPayloadLength)}
	}
	return b, nil
}

// Encode frames message for deviceToken:
//
//	0x00 | token len (u16 BE, 32) | token | payload len (u16 BE, <=255) | payload
//
// It does no I/O and is safe for concurrent use.
func Encode(deviceToken, message string) ([]byte, error) {
	token, err := DecodeToken(deviceToken)
	if err != nil {
		return nil, err
	}
	payload, err := MarshalPayload(message)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, HeaderLength+len(payload))
	out = append(out, CommandSimple)
	out = binary.BigEndian.AppendUint16(out, TokenLength)
	out = append(out, token...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	return out, nil
}
