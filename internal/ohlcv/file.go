package ohlcv

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Canonical bar file: a packed sequence of fixed-size records
// <i32 ts seconds, f32 open, f32 high, f32 low, f32 close, f32 volume>
// in little-endian order, strictly ascending ts, one record per timeframe.

const RecordSize = 24

func encodeRecord(buf []byte, b Bar) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(b.TS)))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(b.Open)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(b.High)))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(float32(b.Low)))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(float32(b.Close)))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(float32(b.Volume)))
}

func decodeRecord(buf []byte) Bar {
	return Bar{
		TS:     int64(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		Open:   float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))),
		High:   float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))),
		Low:    float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16]))),
		Close:  float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20]))),
		Volume: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24]))),
	}
}

// Reader reads a canonical bar file by index.
type Reader struct {
	f    *os.File
	size int
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{f: f, size: int(fi.Size() / RecordSize)}, nil
}

func (r *Reader) Size() int { return r.size }

func (r *Reader) Read(i int) (Bar, error) {
	if i < 0 || i >= r.size {
		return Bar{}, fmt.Errorf("ohlcv: index %d out of range (size %d)", i, r.size)
	}
	buf := make([]byte, RecordSize)
	if _, err := r.f.ReadAt(buf, int64(i)*RecordSize); err != nil {
		return Bar{}, err
	}
	return decodeRecord(buf), nil
}

// StartTimestamp returns the first bar's ts, or 0 for an empty file.
func (r *Reader) StartTimestamp() int64 {
	if r.size == 0 {
		return 0
	}
	b, err := r.Read(0)
	if err != nil {
		return 0
	}
	return b.TS
}

// EndTimestamp returns the last bar's ts, or 0 for an empty file.
func (r *Reader) EndTimestamp() int64 {
	if r.size == 0 {
		return 0
	}
	b, err := r.Read(r.size - 1)
	if err != nil {
		return 0
	}
	return b.TS
}

// Interval is the record spacing in seconds, 0 when fewer than two bars.
func (r *Reader) Interval() int64 {
	if r.size < 2 {
		return 0
	}
	a, err := r.Read(0)
	if err != nil {
		return 0
	}
	b, err := r.Read(1)
	if err != nil {
		return 0
	}
	return b.TS - a.TS
}

func (r *Reader) ReadAll() ([]Bar, error) {
	out := make([]Bar, 0, r.size)
	for i := 0; i < r.size; i++ {
		b, err := r.Read(i)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *Reader) Close() error { return r.f.Close() }

// Writer appends, overwrites and truncates a canonical bar file through a
// single handle so rewrites are not observably split.
type Writer struct {
	f    *os.File
	size int
	pos  int // record index of the next Write
}

func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := int(fi.Size() / RecordSize)
	return &Writer{f: f, size: size, pos: size}, nil
}

func (w *Writer) Size() int { return w.size }

func (w *Writer) readTS(i int) (int64, error) {
	buf := make([]byte, 4)
	if _, err := w.f.ReadAt(buf, int64(i)*RecordSize); err != nil {
		return 0, err
	}
	return int64(int32(binary.LittleEndian.Uint32(buf))), nil
}

// EndTimestamp returns the last record's ts, or 0 for an empty file.
func (w *Writer) EndTimestamp() int64 {
	if w.size == 0 {
		return 0
	}
	ts, err := w.readTS(w.size - 1)
	if err != nil {
		return 0
	}
	return ts
}

// ReadLast returns the last record.
func (w *Writer) ReadLast() (Bar, error) {
	if w.size == 0 {
		return Bar{}, fmt.Errorf("ohlcv: file is empty")
	}
	buf := make([]byte, RecordSize)
	if _, err := w.f.ReadAt(buf, int64(w.size-1)*RecordSize); err != nil {
		return Bar{}, err
	}
	return decodeRecord(buf), nil
}

// indexOf maps ts to a record index using the file's fixed spacing.
// Returns size when ts is past the end (append position).
func (w *Writer) indexOf(ts int64) (int, error) {
	if w.size == 0 {
		return 0, nil
	}
	start, err := w.readTS(0)
	if err != nil {
		return 0, err
	}
	if ts <= start {
		return 0, nil
	}
	var interval int64
	if w.size >= 2 {
		second, err := w.readTS(1)
		if err != nil {
			return 0, err
		}
		interval = second - start
	}
	if interval <= 0 {
		return w.size, nil
	}
	idx := int((ts - start) / interval)
	if idx > w.size {
		idx = w.size
	}
	return idx, nil
}

// SeekToTimestamp positions the next Write at the record holding ts.
func (w *Writer) SeekToTimestamp(ts int64) error {
	idx, err := w.indexOf(ts)
	if err != nil {
		return err
	}
	w.pos = idx
	return nil
}

// Truncate drops everything from the current write position onward.
func (w *Writer) Truncate() error {
	if err := w.f.Truncate(int64(w.pos) * RecordSize); err != nil {
		return err
	}
	w.size = w.pos
	return nil
}

// Write stores one record at the current position and advances it.
func (w *Writer) Write(b Bar) error {
	buf := make([]byte, RecordSize)
	encodeRecord(buf, b)
	if _, err := w.f.WriteAt(buf, int64(w.pos)*RecordSize); err != nil {
		return err
	}
	w.pos++
	if w.pos > w.size {
		w.size = w.pos
	}
	return nil
}

// Overwrite replaces the record at ts in place, keeping the write position.
func (w *Writer) Overwrite(ts int64, b Bar) error {
	idx, err := w.indexOf(ts)
	if err != nil {
		return err
	}
	if idx >= w.size {
		return fmt.Errorf("ohlcv: no record at ts %d", ts)
	}
	buf := make([]byte, RecordSize)
	encodeRecord(buf, b)
	_, err = w.f.WriteAt(buf, int64(idx)*RecordSize)
	return err
}

func (w *Writer) Sync() error  { return w.f.Sync() }
func (w *Writer) Close() error { return w.f.Close() }
