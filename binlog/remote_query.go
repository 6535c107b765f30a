package binlog

import (
	"io"
	"strconv"
)

// query sends a COM_QUERY and parses the response, which is either an
// okPacket or a *resultSet.
func (bl *Remote) query(q string) (interface{}, error) {
	bl.seq = 0
	w := newWriter(bl.conn, &bl.seq)
	if err := w.query(q); err != nil {
		return nil, err
	}
	r := newReader(bl.conn, &bl.seq)
	marker, err := r.peek()
	if err != nil {
		return nil, err
	}
	switch marker {
	case okMarker:
		ok := okPacket{}
		if err := ok.decode(r, bl.hs.capabilityFlags); err != nil {
			return nil, err
		}
		if err := r.drain(); err != nil {
			return nil, err
		}
		return ok, nil
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, bl.hs.capabilityFlags); err != nil {
			return nil, err
		}
		return nil, ErrCommandFailed.New(ep.errorMessage)
	default:
		rs := resultSet{}
		if err := rs.decode(r, bl.hs.capabilityFlags); err != nil {
			return nil, err
		}
		return &rs, nil
	}
}

// queryRows runs a statement and collects the full text result set.
// NULL cells come back as empty strings, which is good enough for the
// administrative statements this client issues.
func (bl *Remote) queryRows(q string) ([][]string, error) {
	resp, err := bl.query(q)
	if err != nil {
		return nil, err
	}
	rs, ok := resp.(*resultSet)
	if !ok {
		return nil, ErrProtocol.New("statement did not produce a result set")
	}
	return rs.rows()
}

// BinlogFile is one row of SHOW BINARY LOGS.
type BinlogFile struct {
	Name string
	Size uint64
}

// ListFiles lists the binary log files present on the server in
// creation order, with their sizes. Equivalent to SHOW BINARY LOGS.
func (bl *Remote) ListFiles() ([]BinlogFile, error) {
	rows, err := bl.queryRows("SHOW BINARY LOGS")
	if err != nil {
		return nil, err
	}
	files := make([]BinlogFile, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, ErrProtocol.New("malformed SHOW BINARY LOGS row")
		}
		size, err := strconv.ParseUint(row[1], 10, 64)
		if err != nil {
			return nil, ErrProtocol.New("malformed SHOW BINARY LOGS size")
		}
		files = append(files, BinlogFile{Name: row[0], Size: size})
	}
	return files, nil
}

// MasterStatus returns the coordinates the master is currently writing
// at. Equivalent to SHOW MASTER STATUS.
func (bl *Remote) MasterStatus() (file string, pos uint32, err error) {
	rows, err := bl.queryRows("SHOW MASTER STATUS")
	if err != nil {
		return "", 0, err
	}
	if len(rows) == 0 || len(rows[0]) < 2 {
		return "", 0, nil
	}
	off, err := strconv.Atoi(rows[0][1])
	if err != nil {
		return "", 0, ErrProtocol.New("malformed SHOW MASTER STATUS position")
	}
	return rows[0][0], uint32(off), nil
}

// ValidatePosition confirms that the given coordinates exist on the
// server: the file must be listed by SHOW BINARY LOGS and the offset
// must not point past its end.
func (bl *Remote) ValidatePosition(file string, pos uint32) error {
	files, err := bl.ListFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Name == file {
			if uint64(pos) > f.Size {
				return ErrOutOfRange.New(file, pos)
			}
			return nil
		}
	}
	return ErrOutOfRange.New(file, pos)
}

func (bl *Remote) fetchBinlogChecksum() (string, error) {
	rows, err := bl.queryRows("SHOW GLOBAL VARIABLES LIKE 'binlog_checksum'")
	if err != nil {
		return "", err
	}
	if len(rows) > 0 && len(rows[0]) > 1 {
		return rows[0][1], nil
	}
	return "", nil
}

// https://dev.mysql.com/doc/internals/en/com-query-response.html#column-definition

type columnDef struct {
	schema       string
	table        string
	name         string
	charset      uint16
	columnLength uint32
	typ          uint8
	flags        uint16
	decimals     uint8
}

func (cd *columnDef) decode(r *reader, capabilities uint32) error {
	if capabilities&capProtocol41 == 0 {
		return ErrProtocol.New("pre-4.1 column definitions not supported")
	}
	_ = r.stringN() // catalog, always "def"
	cd.schema = r.stringN()
	cd.table = r.stringN()
	_ = r.stringN() // org_table
	cd.name = r.stringN()
	_ = r.stringN() // org_name
	_ = r.intN()    // length of the fixed fields, always 0x0c
	cd.charset = r.int2()
	cd.columnLength = r.int4()
	cd.typ = r.int1()
	cd.flags = r.int2()
	cd.decimals = r.int1()
	r.skip(2) // filler
	return r.err
}

type resultSet struct {
	r            *reader
	capabilities uint32
	columns      []columnDef
}

func (rs *resultSet) decode(r *reader, capabilities uint32) error {
	rs.r, rs.capabilities = r, capabilities

	ncol := r.intN()
	if r.err != nil {
		return r.err
	}
	if r.more() {
		return ErrProtocol.New("trailing bytes after column count")
	}

	for i := uint64(0); i < ncol; i++ {
		r.src.(*packetReader).reset()
		cd := columnDef{}
		if err := cd.decode(r, capabilities); err != nil {
			return err
		}
		if r.more() {
			return ErrProtocol.New("trailing bytes after column definition")
		}
		rs.columns = append(rs.columns, cd)
	}

	r.src.(*packetReader).reset()
	eof := eofPacket{}
	return eof.decode(r, capabilities)
}

func (rs *resultSet) nextRow() ([]string, error) {
	r := rs.r
	r.src.(*packetReader).reset()
	marker, err := r.peek()
	if err != nil {
		return nil, err
	}
	switch marker {
	case eofMarker:
		eof := eofPacket{}
		if err := eof.decode(r, rs.capabilities); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, rs.capabilities); err != nil {
			return nil, err
		}
		return nil, ErrCommandFailed.New(ep.errorMessage)
	}
	row := make([]string, len(rs.columns))
	for i := range row {
		marker, err := r.peek()
		if err != nil {
			return nil, err
		}
		if marker == 0xfb { // NULL
			r.int1()
			continue
		}
		row[i] = r.stringN()
		if r.err != nil {
			return nil, r.err
		}
	}
	return row, nil
}

func (rs *resultSet) rows() ([][]string, error) {
	var rows [][]string
	for {
		row, err := rs.nextRow()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}
