package photo

import (
	"bytes"
	"encoding/binary"
)

const maxIFDs = 16

var exifHeader = []byte("Exif\x00\x00")

// byte size of each TIFF field type
var tiffTypeSize = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1,
	7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// exifPayload returns the TIFF block of the first Exif APP1 segment of a
// JPEG stream, or nil when there is none or the markers are malformed.
func exifPayload(raw []byte) []byte {
	if len(raw) < 4 || raw[0] != 0xFF || raw[1] != 0xD8 {
		return nil
	}
	pos := 2
	for pos+4 <= len(raw) {
		if raw[pos] != 0xFF {
			return nil
		}
		marker := raw[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		pos += 2
		switch {
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			continue
		case marker == 0xDA || marker == 0xD9:
			// metadata only precedes the scan
			return nil
		}
		if pos+2 > len(raw) {
			return nil
		}
		length := int(binary.BigEndian.Uint16(raw[pos:]))
		if length < 2 || pos+length > len(raw) {
			return nil
		}
		segment := raw[pos+2 : pos+length]
		if marker == 0xE1 && bytes.HasPrefix(segment, exifHeader) {
			return segment[len(exifHeader):]
		}
		pos += length
	}
	return nil
}

// validTIFF walks every IFD the EXIF decoder will visit and reports whether
// all entries stay inside data. A declared value length larger than the
// block itself means a corrupt or hostile count.
func validTIFF(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return false
	}
	if order.Uint16(data[2:]) != 42 {
		return false
	}
	walker := &ifdWalker{data: data, order: order, seen: make(map[uint32]bool)}
	offset := order.Uint32(data[4:])
	for offset != 0 {
		next, ok := walker.dir(offset, true)
		if !ok {
			return false
		}
		offset = next
	}
	return true
}

type ifdWalker struct {
	data  []byte
	order binary.ByteOrder
	seen  map[uint32]bool
}

func (w *ifdWalker) dir(offset uint32, chained bool) (uint32, bool) {
	if w.seen[offset] || len(w.seen) >= maxIFDs {
		return 0, false
	}
	w.seen[offset] = true

	size := uint64(len(w.data))
	start := uint64(offset)
	if start+2 > size {
		return 0, false
	}
	entries := uint64(w.order.Uint16(w.data[start:]))
	end := start + 2 + entries*12
	if end+4 > size {
		return 0, false
	}
	for i := uint64(0); i < entries; i++ {
		entry := w.data[start+2+i*12:]
		tag := w.order.Uint16(entry)
		kind := w.order.Uint16(entry[2:])
		count := uint64(w.order.Uint32(entry[4:]))
		typeSize, known := tiffTypeSize[kind]
		if !known {
			continue
		}
		length := typeSize * count
		if length > size {
			return 0, false
		}
		if length > 4 && uint64(w.order.Uint32(entry[8:]))+length > size {
			return 0, false
		}
		if isSubIFDPointer(tag) && count > 0 {
			var sub uint32
			switch kind {
			case 3:
				sub = uint32(w.order.Uint16(entry[8:]))
			case 4:
				sub = w.order.Uint32(entry[8:])
			default:
				continue
			}
			if _, ok := w.dir(sub, false); !ok {
				return 0, false
			}
		}
	}
	if !chained {
		return 0, true
	}
	return w.order.Uint32(w.data[end:]), true
}

// Exif, GPS and interoperability sub-directories.
func isSubIFDPointer(tag uint16) bool {
	return tag == 0x8769 || tag == 0x8825 || tag == 0xA005
}
