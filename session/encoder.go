package session

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary layout, versioned. The head is fixed-width so the Lua scripts in the
// redis store can read the stamp and the flags byte at constant offsets
// without decoding the variable tail.
//
//	offset  size  field
//	0       1     version (currently 1)
//	1       8     stamp, big-endian int64 (renewedOn, or startedOn if never renewed)
//	9       8     startedOn, big-endian int64
//	17      8     renewedOn, big-endian int64 (0 = never renewed)
//	25      1     flags (bit 0 = privileged)
//	26      ...   length-prefixed strings: userID, deviceInfo, ip, address
//
// Each string is a 1-byte length followed by the bytes. Strings longer than
// 255 bytes are truncated at encode time; they are free-form request
// metadata, never identity-bearing beyond userID which is a UUID.
const (
	codecVersion = 1

	offStamp     = 1
	offStartedOn = 9
	offRenewedOn = 17
	offFlags     = 25
	headLen      = 26

	flagPrivileged = 0x01
)

var errCorruptRecord = errors.New("session: corrupt record")

func encode(s *Session) []byte {
	buf := make([]byte, headLen, headLen+4+len(s.UserID)+len(s.DeviceInfo)+len(s.IP)+len(s.Address))
	buf[0] = codecVersion
	binary.BigEndian.PutUint64(buf[offStamp:], uint64(s.Stamp()))
	binary.BigEndian.PutUint64(buf[offStartedOn:], uint64(s.StartedOn))
	binary.BigEndian.PutUint64(buf[offRenewedOn:], uint64(s.RenewedOn))
	if s.Privileged {
		buf[offFlags] |= flagPrivileged
	}
	buf = appendString(buf, s.UserID)
	buf = appendString(buf, s.DeviceInfo)
	buf = appendString(buf, s.IP)
	buf = appendString(buf, s.Address)
	return buf
}

func appendString(buf []byte, s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func decode(id string, data []byte) (*Session, error) {
	if len(data) < headLen {
		return nil, fmt.Errorf("%w: short record (%d bytes)", errCorruptRecord, len(data))
	}
	if data[0] != codecVersion {
		return nil, fmt.Errorf("%w: unknown version %d", errCorruptRecord, data[0])
	}
	s := &Session{
		ID:         id,
		StartedOn:  int64(binary.BigEndian.Uint64(data[offStartedOn:])),
		RenewedOn:  int64(binary.BigEndian.Uint64(data[offRenewedOn:])),
		Privileged: data[offFlags]&flagPrivileged != 0,
	}
	rest := data[headLen:]
	var err error
	if s.UserID, rest, err = readString(rest); err != nil {
		return nil, err
	}
	if s.DeviceInfo, rest, err = readString(rest); err != nil {
		return nil, err
	}
	if s.IP, rest, err = readString(rest); err != nil {
		return nil, err
	}
	if s.Address, _, err = readString(rest); err != nil {
		return nil, err
	}
	return s, nil
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 1 {
		return "", nil, fmt.Errorf("%w: truncated string", errCorruptRecord)
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return "", nil, fmt.Errorf("%w: truncated string", errCorruptRecord)
	}
	return string(buf[1 : 1+n]), buf[1+n:], nil
}
