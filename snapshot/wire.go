package snapshot

import (
	"encoding/binary"
	"io"
	"math"
)

func floatToBits(v float64) uint64 { return math.Float64bits(v) }
func bitsToFloat(b uint64) float64 { return math.Float64frombits(b) }

func writeUint32(w io.Writer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeInt64(w io.Writer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.Write(b[:])
}

func writeFloat64(w io.Writer, v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], floatToBits(v))
	w.Write(b[:])
}

func writeString(w io.Writer, s string) {
	writeUint32(w, uint32(len(s)))
	io.WriteString(w, s)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readFloat64(r io.Reader) (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return bitsToFloat(binary.BigEndian.Uint64(b[:])), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
