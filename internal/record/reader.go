package record

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

var (
	ErrBadMagic   = errors.New("record: bad magic header")
	ErrTruncated  = errors.New("record: truncated trailing record")
	ErrUnknownTag = errors.New("record: unknown record tag")
)

// Reader walks a log stream using tag-directed fixed sizes.
type Reader struct {
	r      *bufio.Reader
	header bool
	buf    [MotionSize]byte
	offset int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Offset is the number of bytes consumed so far, header included.
func (rr *Reader) Offset() int64 { return rr.offset }

func (rr *Reader) readHeader() error {
	var h [4]byte
	n, err := io.ReadFull(rr.r, h[:])
	rr.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrBadMagic
		}
		return err
	}
	if h != Magic {
		return fmt.Errorf("%w: %q", ErrBadMagic, h[:])
	}
	rr.header = true
	return nil
}

// Next returns the next record. It returns io.EOF at a clean end of stream,
// ErrTruncated when the stream ends inside a record and ErrUnknownTag when a
// tag byte is not recognised (the remainder cannot be framed).
func (rr *Reader) Next() (Record, error) {
	if !rr.header {
		if err := rr.readHeader(); err != nil {
			return nil, err
		}
	}
	start := rr.offset
	tag, err := rr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	rr.offset++
	size := SizeOf(tag)
	if size == 0 {
		return nil, fmt.Errorf("%w 0x%02X at offset %d", ErrUnknownTag, tag, start)
	}
	rr.buf[0] = tag
	n, err := io.ReadFull(rr.r, rr.buf[1:size])
	rr.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: tag %q wants %d bytes, have %d", ErrTruncated, tag, size, 1+n)
		}
		return nil, err
	}
	switch tag {
	case TagMotion:
		return decodeMotion(rr.buf[:size]), nil
	default:
		return decodeBarometric(rr.buf[:size]), nil
	}
}

// ReadAll returns every complete record. A truncated tail is reported through
// ErrTruncated together with the records read before it.
func (rr *Reader) ReadAll() ([]Record, error) {
	recs := make([]Record, 0, 1024)
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}
