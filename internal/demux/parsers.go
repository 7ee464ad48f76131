package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
	// tsReadPackets is how many packets a single read batches into a chunk.
	tsReadPackets = 64
	pcmReadSize   = 4096
	maxBoxSize    = 64 << 20
)

// ErrBoxTooLarge is returned for boxes beyond maxBoxSize.
var ErrBoxTooLarge = errors.New("mp4 box too large")

// parseFunc splits a container byte stream into chunks until EOF or error.
type parseFunc func(r io.Reader, emit func(Chunk)) error

func parserFor(c Container) parseFunc {
	switch c {
	case ContainerMP4:
		return parseMP4
	case ContainerPCM:
		return parsePCM
	default:
		return parseMPEGTS
	}
}

// parseMP4 frames a fragmented MP4 stream into boxes. ftyp and moov are
// emitted together as one init chunk; every other box is its own chunk
// typed by its box name.
func parseMP4(r io.Reader, emit func(Chunk)) error {
	var ftyp [][]byte
	header := make([]byte, 8)

	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return eofOK(err)
		}

		hdr := append([]byte(nil), header...)
		size := uint64(binary.BigEndian.Uint32(header[:4]))
		boxType := string(header[4:8])
		headerLen := uint64(8)

		if size == 1 {
			ext := make([]byte, 8)
			if _, err := io.ReadFull(r, ext); err != nil {
				return eofOK(err)
			}
			hdr = append(hdr, ext...)
			size = binary.BigEndian.Uint64(ext)
			headerLen = 16
		}
		if size < headerLen {
			return fmt.Errorf("invalid %s box size %d", boxType, size)
		}
		if size > maxBoxSize {
			return fmt.Errorf("%w: %s %d bytes", ErrBoxTooLarge, boxType, size)
		}

		payload := make([]byte, size-headerLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return eofOK(err)
		}

		switch boxType {
		case "ftyp":
			ftyp = [][]byte{hdr, payload}
		case "moov":
			emit(Chunk{Type: ChunkInit, Data: append(ftyp, hdr, payload)})
			ftyp = nil
		default:
			emit(Chunk{Type: ChunkType(boxType), Data: [][]byte{hdr, payload}})
		}
	}
}

// parseMPEGTS frames a transport stream into whole 188-byte packets. Each
// read produces at most one chunk; partial packets carry over and the
// parser resynchronises on the sync byte after corruption.
func parseMPEGTS(r io.Reader, emit func(Chunk)) error {
	buf := make([]byte, 0, tsPacketSize*tsReadPackets*2)
	read := make([]byte, tsPacketSize*tsReadPackets)

	for {
		n, err := r.Read(read)
		if n > 0 {
			buf = append(buf, read[:n]...)
			var packets []byte
			packets, buf = splitTSPackets(buf)
			if len(packets) > 0 {
				emit(Chunk{Type: ChunkTS, Data: [][]byte{packets}})
			}
		}
		if err != nil {
			return eofOK(err)
		}
	}
}

// splitTSPackets returns the aligned complete packets in buf and the
// remainder that must be kept for the next read.
func splitTSPackets(buf []byte) (packets, rest []byte) {
	start := 0
	var out []byte
	for len(buf)-start >= tsPacketSize {
		if buf[start] != tsSyncByte || (len(buf)-start > tsPacketSize && buf[start+tsPacketSize] != tsSyncByte) {
			start++
			continue
		}
		out = append(out, buf[start:start+tsPacketSize]...)
		start += tsPacketSize
	}
	rest = append(buf[:0], buf[start:]...)
	return out, rest
}

// parsePCM forwards raw s16le audio, keeping chunks sample aligned.
func parsePCM(r io.Reader, emit func(Chunk)) error {
	read := make([]byte, pcmReadSize)
	var carry []byte

	for {
		n, err := r.Read(read)
		if n > 0 {
			data := append(carry, read[:n]...)
			aligned := len(data) &^ 1
			carry = append([]byte(nil), data[aligned:]...)
			if aligned > 0 {
				emit(Chunk{Type: ChunkPCM, Data: [][]byte{append([]byte(nil), data[:aligned]...)}})
			}
		}
		if err != nil {
			return eofOK(err)
		}
	}
}

func eofOK(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}
