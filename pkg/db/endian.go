package db

import (
	"encoding/binary"
	"unsafe"
)

// nativeEndian is the byte order of the running machine, probed once at startup.
var nativeEndian binary.ByteOrder = binary.LittleEndian

func init() {
	probe := uint16(1)
	if *(*byte)(unsafe.Pointer(&probe)) == 0 {
		nativeEndian = binary.BigEndian
	}
}

func nativePutUint64(b []byte, v uint64) { nativeEndian.PutUint64(b, v) }
func nativePutUint32(b []byte, v uint32) { nativeEndian.PutUint32(b, v) }
func nativePutUint16(b []byte, v uint16) { nativeEndian.PutUint16(b, v) }
