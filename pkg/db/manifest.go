package db

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/herohde/posdb/pkg/entry"
)

const manifestName = "manifest"

// endiannessSignature is the 16-byte native-order probe written into the manifest of
// formats that require matching endianness: u64, u32, u16, u8 of fixed values plus one
// byte of padding. A file written on a foreign-endian machine fails the comparison.
func endiannessSignature() []byte {
	buf := make([]byte, 16)
	nativePutUint64(buf[0:], 0x0011223344556677)
	nativePutUint32(buf[8:], 0x8899AABB)
	nativePutUint16(buf[12:], 0xCCDD)
	buf[14] = 0xEE
	return buf
}

// writeManifest creates the manifest for a new database.
func writeManifest(path string, format entry.Format) error {
	buf := []byte{byte(len(format.Name()))}
	buf = append(buf, format.Name()...)
	if format.RequiresMatchingEndianness() {
		buf = append(buf, endiannessSignature()...)
	}
	return os.WriteFile(filepath.Join(path, manifestName), buf, 0644)
}

// readManifest validates the manifest and resolves the database format.
func readManifest(path string) (entry.Format, error) {
	buf, err := os.ReadFile(filepath.Join(path, manifestName))
	if os.IsNotExist(err) {
		return nil, ErrMissingManifest
	}
	if err != nil {
		return nil, err
	}

	if len(buf) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidManifest)
	}
	keyLen := int(buf[0])
	if len(buf) < 1+keyLen {
		return nil, fmt.Errorf("%w: truncated key", ErrInvalidManifest)
	}
	key := string(buf[1 : 1+keyLen])

	format, err := entry.ByName(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyMismatch, key)
	}

	if format.RequiresMatchingEndianness() {
		sig := buf[1+keyLen:]
		if len(sig) < 16 {
			return nil, fmt.Errorf("%w: missing endianness signature", ErrInvalidManifest)
		}
		if !bytes.Equal(sig[:16], endiannessSignature()) {
			return nil, ErrEndiannessMismatch
		}
	}
	return format, nil
}
