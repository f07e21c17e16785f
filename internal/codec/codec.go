package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
)

// Frame format:
//   - CRC32 (IEEE) of the payload (4 bytes, little endian)
//   - Payload length (4 bytes, little endian)
//   - Payload:
//     - Kind (1 byte)
//     - Key length (uvarint) and key bytes
//     - Value length (uvarint) and value bytes, Set only
const HeaderSize = 8

const (
	// MaxKeySize is the largest key accepted by Encode.
	MaxKeySize = 64 * 1024
	// MaxValueSize is the largest value accepted by Encode.
	MaxValueSize = 64 * 1024 * 1024

	maxPayloadSize = 1 + binary.MaxVarintLen64*2 + MaxKeySize + MaxValueSize
)

// Encode serializes cmd into a single frame.
func Encode(cmd Command) ([]byte, error) {
	if len(cmd.Key) > MaxKeySize {
		return nil, kvErr.New(kvErr.ErrorTypeInvalidInput,
			fmt.Sprintf("key exceeds maximum size of %d bytes", MaxKeySize), nil)
	}

	payloadLen := 1 + uvarintLen(uint64(len(cmd.Key))) + len(cmd.Key)
	switch cmd.Kind {
	case KindSet:
		if len(cmd.Value) > MaxValueSize {
			return nil, kvErr.New(kvErr.ErrorTypeInvalidInput,
				fmt.Sprintf("value exceeds maximum size of %d bytes", MaxValueSize), nil)
		}
		payloadLen += uvarintLen(uint64(len(cmd.Value))) + len(cmd.Value)
	case KindRemove:
	default:
		return nil, kvErr.New(kvErr.ErrorTypeInvalidInput, fmt.Sprintf("cannot encode %s", cmd.Kind), nil)
	}

	buf := make([]byte, HeaderSize+payloadLen)
	payload := buf[HeaderSize:HeaderSize]
	payload = append(payload, byte(cmd.Kind))
	payload = binary.AppendUvarint(payload, uint64(len(cmd.Key)))
	payload = append(payload, cmd.Key...)
	if cmd.Kind == KindSet {
		payload = binary.AppendUvarint(payload, uint64(len(cmd.Value)))
		payload = append(payload, cmd.Value...)
	}

	binary.LittleEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	return buf, nil
}

// Decode reads one frame from the start of buf and returns the command and the
// number of bytes the frame occupies. A truncated or damaged frame yields a
// CORRUPT_LOG error.
func Decode(buf []byte) (Command, int, error) {
	if len(buf) < HeaderSize {
		return Command{}, 0, corrupt("truncated frame header (%d bytes)", len(buf))
	}
	checksum := binary.LittleEndian.Uint32(buf[0:4])
	size := binary.LittleEndian.Uint32(buf[4:8])
	if size > maxPayloadSize {
		return Command{}, 0, corrupt("frame payload length %d out of range", size)
	}
	end := HeaderSize + int(size)
	if len(buf) < end {
		return Command{}, 0, corrupt("truncated frame: need %d bytes, have %d", end, len(buf))
	}
	cmd, err := decodePayload(buf[HeaderSize:end], checksum)
	if err != nil {
		return Command{}, 0, err
	}
	return cmd, end, nil
}

// ReadFrame reads one frame from r. It returns io.EOF only when r is exhausted
// exactly at a frame boundary.
func ReadFrame(r io.Reader) (Command, int, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Command{}, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Command{}, 0, corrupt("truncated frame header")
		}
		return Command{}, 0, kvErr.New(kvErr.ErrorTypeIO, "failed to read frame header", err)
	}

	checksum := binary.LittleEndian.Uint32(header[0:4])
	size := binary.LittleEndian.Uint32(header[4:8])
	if size > maxPayloadSize {
		return Command{}, 0, corrupt("frame payload length %d out of range", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Command{}, 0, corrupt("truncated frame payload")
		}
		return Command{}, 0, kvErr.New(kvErr.ErrorTypeIO, "failed to read frame payload", err)
	}

	cmd, err := decodePayload(payload, checksum)
	if err != nil {
		return Command{}, 0, err
	}
	return cmd, HeaderSize + int(size), nil
}

func decodePayload(payload []byte, checksum uint32) (Command, error) {
	if crc32.ChecksumIEEE(payload) != checksum {
		return Command{}, corrupt("checksum mismatch")
	}
	if len(payload) == 0 {
		return Command{}, corrupt("empty payload")
	}

	kind := Kind(payload[0])
	rest := payload[1:]

	key, rest, err := readString(rest)
	if err != nil {
		return Command{}, err
	}

	var cmd Command
	switch kind {
	case KindSet:
		value, tail, err := readString(rest)
		if err != nil {
			return Command{}, err
		}
		rest = tail
		cmd = Set(key, value)
	case KindRemove:
		cmd = Remove(key)
	default:
		return Command{}, corrupt("unknown command kind %d", byte(kind))
	}

	if len(rest) != 0 {
		return Command{}, corrupt("%d trailing bytes after %s", len(rest), kind)
	}
	return cmd, nil
}

func readString(buf []byte) (string, []byte, error) {
	n, used := binary.Uvarint(buf)
	if used <= 0 {
		return "", nil, corrupt("malformed length prefix")
	}
	buf = buf[used:]
	if n > uint64(len(buf)) {
		return "", nil, corrupt("length %d exceeds remaining %d bytes", n, len(buf))
	}
	return string(buf[:n]), buf[n:], nil
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func corrupt(format string, args ...interface{}) error {
	return kvErr.New(kvErr.ErrorTypeCorruptLog, fmt.Sprintf(format, args...), nil)
}
