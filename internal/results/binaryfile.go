package results

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// BinaryHeader is the fixed 41-byte little-endian header of a binary
// result file. Field order and widths are part of the file format.
type BinaryHeader struct {
	NumBeads            int32
	NumFrameInfoColumns int32
	Scale               [3]float32
	Offset              [3]float32
	WriteInterval       int32
	MaxFramesInMemory   uint32
	BinaryOutput        uint8
}

// BinaryHeaderSize is the encoded size of BinaryHeader.
const BinaryHeaderSize = 41

func headerFromConfig(cfg Config) BinaryHeader {
	return BinaryHeader{
		NumBeads:            int32(cfg.NumBeads),
		NumFrameInfoColumns: int32(cfg.NumFrameInfoColumns),
		Scale:               [3]float32{cfg.Scale.X, cfg.Scale.Y, cfg.Scale.Z},
		Offset:              [3]float32{cfg.Offset.X, cfg.Offset.Y, cfg.Offset.Z},
		WriteInterval:       int32(cfg.WriteInterval),
		MaxFramesInMemory:   cfg.MaxFramesInMemory,
		BinaryOutput:        1,
	}
}

// RecordSize returns the size in bytes of one frame record.
func (h BinaryHeader) RecordSize() int {
	return 12*int(h.NumBeads) + 4*int(h.NumFrameInfoColumns) + 8
}

// binaryWriter appends fixed-size frame records after the header. Removed
// beads keep their slot and are written as NaN.
type binaryWriter struct {
	f   *outputFile
	w   *bufio.Writer
	hdr BinaryHeader
	rec []byte
}

func newBinaryWriter(path string, cfg Config) (*binaryWriter, error) {
	f, err := createLocked(path)
	if err != nil {
		return nil, err
	}
	bw := &binaryWriter{f: f, w: bufio.NewWriter(f), hdr: headerFromConfig(cfg)}
	bw.rec = make([]byte, bw.hdr.RecordSize())
	if err := binary.Write(bw.w, binary.LittleEndian, bw.hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if err := bw.w.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return bw, nil
}

func (b *binaryWriter) WriteRows(rows []Row) error {
	for _, row := range rows {
		if err := encodeRecord(b.rec, b.hdr, row); err != nil {
			return err
		}
		if _, err := b.w.Write(b.rec); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", row.Frame, err)
		}
	}
	return b.w.Flush()
}

func encodeRecord(dst []byte, hdr BinaryHeader, row Row) error {
	if len(row.Positions) != int(hdr.NumBeads) || len(row.FrameInfo) != int(hdr.NumFrameInfoColumns) {
		return fmt.Errorf("%w: frame %d has %d beads and %d info columns, file expects %d and %d",
			ErrInvalidArgument, row.Frame, len(row.Positions), len(row.FrameInfo), hdr.NumBeads, hdr.NumFrameInfoColumns)
	}
	le := binary.LittleEndian
	off := 0
	put := func(v float32) {
		le.PutUint32(dst[off:], math.Float32bits(v))
		off += 4
	}
	for i, p := range row.Positions {
		if i < len(row.Removed) && row.Removed[i] {
			p = nanVector()
		}
		put(p.X)
		put(p.Y)
		put(p.Z)
	}
	for _, v := range row.FrameInfo {
		put(v)
	}
	le.PutUint64(dst[off:], math.Float64bits(row.Timestamp))
	return nil
}

func (b *binaryWriter) Sync() error {
	if err := b.w.Flush(); err != nil {
		return err
	}
	return b.f.Sync()
}

func (b *binaryWriter) Close() error {
	ferr := b.w.Flush()
	if err := b.f.Close(); err != nil {
		return err
	}
	return ferr
}

// ReadBinaryFile reads a file written in the binary format.
func ReadBinaryFile(path string) (BinaryHeader, []Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return BinaryHeader{}, nil, err
	}
	defer f.Close()
	return ReadBinary(bufio.NewReader(f))
}

// ReadBinary decodes a header and every complete record that follows it.
// Record i is frame i. A trailing partial record is an error.
func ReadBinary(r io.Reader) (BinaryHeader, []Row, error) {
	var hdr BinaryHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if hdr.NumBeads < 0 || hdr.NumFrameInfoColumns < 0 {
		return hdr, nil, fmt.Errorf("corrupt header: %d beads, %d info columns", hdr.NumBeads, hdr.NumFrameInfoColumns)
	}

	rec := make([]byte, hdr.RecordSize())
	var rows []Row
	for {
		if _, err := io.ReadFull(r, rec); err != nil {
			if errors.Is(err, io.EOF) {
				return hdr, rows, nil
			}
			return hdr, rows, fmt.Errorf("frame %d: %w", len(rows), err)
		}
		rows = append(rows, decodeRecord(rec, hdr, len(rows)))
	}
}

func decodeRecord(rec []byte, hdr BinaryHeader, frame int) Row {
	rd := bytes.NewReader(rec)
	row := Row{
		Frame:     frame,
		Positions: make([]Vector3f, hdr.NumBeads),
		FrameInfo: make([]float32, hdr.NumFrameInfoColumns),
	}
	// the record buffer is exactly RecordSize bytes, so these reads cannot fail
	_ = binary.Read(rd, binary.LittleEndian, row.Positions)
	_ = binary.Read(rd, binary.LittleEndian, row.FrameInfo)
	_ = binary.Read(rd, binary.LittleEndian, &row.Timestamp)
	return row
}
