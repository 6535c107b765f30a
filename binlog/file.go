package binlog

import (
	"bufio"
	"io"
	"os"
)

// fileHeader is the magic at the start of every binlog file.
var fileHeader = []byte{0xfe, 'b', 'i', 'n'}

// File reads binlog events from a binlog file on disk. It yields the
// same Event values as the network stream, which makes it useful for
// offline inspection and for exercising the decoder.
type File struct {
	f *os.File
	r *reader
}

// OpenFile opens a local binlog file and checks its magic.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src := bufio.NewReader(f)
	magic := make([]byte, 4)
	if _, err := io.ReadFull(src, magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	for i, b := range fileHeader {
		if magic[i] != b {
			_ = f.Close()
			return nil, ErrProtocol.New("not a binlog file")
		}
	}
	r := &reader{src: src, limit: -1, tables: make(map[uint64]*TableMapEvent)}
	r.binlogPos = 4
	return &File{f: f, r: r}, nil
}

// NextEvent returns the next event in the file, io.EOF at the end.
func (fl *File) NextEvent() (Event, error) {
	if !fl.r.more() {
		if fl.r.err != nil {
			return Event{}, fl.r.err
		}
		return Event{}, io.EOF
	}
	return decodeEvent(fl.r)
}

// Close closes the underlying file.
func (fl *File) Close() error {
	return fl.f.Close()
}
