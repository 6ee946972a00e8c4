package session

import (
	"encoding/binary"
	"errors"
	"math"
)

// Row layout, version 1. The fixed-offset header lets the rotation Lua
// script read and splice timestamps without a full decode:
//
//	[0]      version
//	[1:9]    issued_at  (unix seconds, big-endian)
//	[9:17]   expires_at (unix seconds, big-endian)
//	[17:25]  revoked_at (unix seconds, big-endian; zero while Active)
//	[25]     len(principal_id), then principal_id bytes
//	[...]    len(role), then role bytes
//	[...]    u16 len(context), then context bytes
const recordVersion = 1

const headerSize = 1 + 3*8

// ErrCorruptRecord is returned when a stored row cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt session record")

// Encode serializes a session row. The session ID is not part of the
// blob; it is the Redis key suffix.
func Encode(s *Session) ([]byte, error) {
	if len(s.PrincipalID) == 0 || len(s.PrincipalID) > math.MaxUint8 {
		return nil, errors.New("invalid principal id length")
	}
	if len(s.Role) > math.MaxUint8 {
		return nil, errors.New("role too long")
	}
	if len(s.Context) > math.MaxUint16 {
		return nil, errors.New("context too long")
	}

	out := make([]byte, 0, headerSize+2+len(s.PrincipalID)+1+len(s.Role)+2+len(s.Context))
	out = append(out, recordVersion)
	out = binary.BigEndian.AppendUint64(out, uint64(s.IssuedAt))
	out = binary.BigEndian.AppendUint64(out, uint64(s.ExpiresAt))
	out = binary.BigEndian.AppendUint64(out, uint64(s.RevokedAt))
	out = append(out, byte(len(s.PrincipalID)))
	out = append(out, s.PrincipalID...)
	out = append(out, byte(len(s.Role)))
	out = append(out, s.Role...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(s.Context)))
	out = append(out, s.Context...)

	return out, nil
}

// Decode parses a version-1 row blob. The caller fills in the session ID.
func Decode(data []byte) (*Session, error) {
	if len(data) < headerSize+1 || data[0] != recordVersion {
		return nil, ErrCorruptRecord
	}

	s := &Session{
		IssuedAt:  int64(binary.BigEndian.Uint64(data[1:9])),
		ExpiresAt: int64(binary.BigEndian.Uint64(data[9:17])),
		RevokedAt: int64(binary.BigEndian.Uint64(data[17:25])),
	}

	idx := headerSize
	principal, idx, ok := readString8(data, idx)
	if !ok {
		return nil, ErrCorruptRecord
	}
	role, idx, ok := readString8(data, idx)
	if !ok {
		return nil, ErrCorruptRecord
	}
	context, idx, ok := readString16(data, idx)
	if !ok || idx != len(data) {
		return nil, ErrCorruptRecord
	}

	s.PrincipalID = principal
	s.Role = role
	s.Context = context
	return s, nil
}

func readString8(data []byte, idx int) (string, int, bool) {
	if idx >= len(data) {
		return "", 0, false
	}
	n := int(data[idx])
	idx++
	if idx+n > len(data) {
		return "", 0, false
	}
	return string(data[idx : idx+n]), idx + n, true
}

func readString16(data []byte, idx int) (string, int, bool) {
	if idx+2 > len(data) {
		return "", 0, false
	}
	n := int(binary.BigEndian.Uint16(data[idx : idx+2]))
	idx += 2
	if idx+n > len(data) {
		return "", 0, false
	}
	return string(data[idx : idx+n]), idx + n, true
}
