package binlog

import (
	"fmt"
)

// Column captures the type and metadata of one table column as declared
// by a TableMapEvent.
type Column struct {
	Ordinal  int
	Type     ColumnType
	Meta     uint16
	Nullable bool
}

// TableMapEvent precedes each row event and maps a numeric table id to
// a (schema, table) pair plus the column layout needed to size the row
// images that follow.
//
// https://dev.mysql.com/doc/internals/en/table-map-event.html
type TableMapEvent struct {
	TableID    uint64 // u48 on the wire
	Flags      uint16
	SchemaName string
	TableName  string
	Columns    []Column
	NullBits   []byte
}

func (e *TableMapEvent) decode(r *reader) error {
	e.TableID = r.int6()
	e.Flags = r.int2()
	_ = r.int1() // schema name length, the string is NUL terminated anyway
	e.SchemaName = r.stringNull()
	_ = r.int1() // table name length
	e.TableName = r.stringNull()
	numCol := r.intN()
	if r.err != nil {
		return r.err
	}
	e.Columns = make([]Column, numCol)
	for i := range e.Columns {
		e.Columns[i].Ordinal = i
		e.Columns[i].Type = ColumnType(r.int1())
	}

	_ = r.intN() // metadata block length
	for i := range e.Columns {
		c := &e.Columns[i]
		switch c.Type.metaWidth() {
		case 1:
			c.Meta = uint16(r.int1())
		case 2:
			switch c.Type {
			case TypeString, TypeEnum, TypeSet, TypeVarString:
				// real type in the first byte, length in the second
				b0 := r.int1()
				b1 := r.int1()
				c.Meta = uint16(b0) | uint16(b1)<<8
			default:
				c.Meta = r.int2()
			}
		}
	}
	if r.err != nil {
		return r.err
	}

	e.NullBits = r.bytes(bitmapSize(numCol))
	if r.err != nil {
		return r.err
	}
	for i := range e.Columns {
		e.Columns[i].Nullable = nullBitmap(e.NullBits).isSet(i)
	}

	// optional extended metadata (signedness, charsets, names); sizes
	// only, the content is not needed to track consistency
	for r.more() {
		_ = r.int1()
		size := int(r.intN())
		if r.err != nil {
			break
		}
		r.skip(size)
	}
	if ErrTruncated.Is(r.err) {
		// servers older than 8.0 do not write the extension block
		r.err = nil
	}
	return r.err
}

// QualifiedName returns the schema.table form used as registry key.
func (e *TableMapEvent) QualifiedName() string {
	return e.SchemaName + "." + e.TableName
}

// RowsSubtype distinguishes the three row event kinds.
type RowsSubtype int

const (
	RowsWrite RowsSubtype = iota
	RowsUpdate
	RowsDelete
)

func (s RowsSubtype) String() string {
	switch s {
	case RowsWrite:
		return "write"
	case RowsUpdate:
		return "update"
	case RowsDelete:
		return "delete"
	}
	return fmt.Sprintf("rowsSubtype(%d)", int(s))
}

// RowsEvent captures inserted, updated or deleted rows of one table.
// Row images are kept as raw bytes; only their boundaries are computed,
// using the column metadata of the associated TableMapEvent.
//
// https://dev.mysql.com/doc/internals/en/rows-event.html
type RowsEvent struct {
	EventType EventType
	Subtype   RowsSubtype
	TableID   uint64
	TableMap  *TableMapEvent // nil for a dummy rows event
	Flags     uint16

	NumColumns uint64
	Present    []byte // used-columns bitmap (after-image)
	PresentOld []byte // before-image bitmap, UPDATE only

	// Images holds the raw undecoded row payload.
	Images []byte
}

func (e *RowsEvent) decode(r *reader, typ EventType, tables map[uint64]*TableMapEvent) error {
	e.EventType = typ
	switch {
	case typ.IsWriteRows():
		e.Subtype = RowsWrite
	case typ.IsUpdateRows():
		e.Subtype = RowsUpdate
	case typ.IsDeleteRows():
		e.Subtype = RowsDelete
	}

	if r.fde.postHeaderLength(typ, 8) == 6 {
		e.TableID = uint64(r.int4())
	} else {
		e.TableID = r.int6()
	}
	e.Flags = r.int2()

	switch typ {
	case WRITE_ROWS_EVENTv2, UPDATE_ROWS_EVENTv2, DELETE_ROWS_EVENTv2:
		extraLen := r.int2()
		if r.err != nil {
			return r.err
		}
		r.skip(int(extraLen) - 2)
	}

	e.NumColumns = r.intN()
	if r.err != nil {
		return r.err
	}
	e.Present = r.bytes(bitmapSize(e.NumColumns))
	if e.Subtype == RowsUpdate {
		e.PresentOld = e.Present
		e.Present = r.bytes(bitmapSize(e.NumColumns))
	}
	if r.err != nil {
		return r.err
	}

	if e.TableID != 0x00ffffff && e.NumColumns > 0 {
		tm, ok := tables[e.TableID]
		if !ok {
			return fmt.Errorf("no table map for table id %d", e.TableID)
		}
		e.TableMap = tm
	}

	e.Images = r.bytesEOF()
	return r.err
}

// Rows splits the raw payload into per-row images. For UPDATE events
// each returned element is one full before+after pair. The split walks
// the images with the column sizing rules; values stay undecoded.
func (e *RowsEvent) Rows() ([][]byte, error) {
	if e.TableMap == nil || len(e.Images) == 0 {
		return nil, nil
	}
	var rows [][]byte
	r := newBytesReader(e.Images)
	start := 0
	for r.more() {
		if err := e.skipImage(r, e.presentColumns(false)); err != nil {
			return rows, err
		}
		if e.Subtype == RowsUpdate {
			if err := e.skipImage(r, e.presentColumns(true)); err != nil {
				return rows, err
			}
		}
		rows = append(rows, e.Images[start:r.off])
		start = r.off
	}
	return rows, nil
}

// presentColumns lists the columns present in a row image. For UPDATE
// events after=false selects the before-image bitmap; other subtypes
// have a single image.
func (e *RowsEvent) presentColumns(after bool) []Column {
	bm := nullBitmap(e.PresentOld)
	if after || e.Subtype != RowsUpdate {
		bm = nullBitmap(e.Present)
	}
	var cols []Column
	for i := 0; i < int(e.NumColumns); i++ {
		if bm.isSet(i) {
			cols = append(cols, e.TableMap.Columns[i])
		}
	}
	return cols
}

func (e *RowsEvent) skipImage(r *reader, cols []Column) error {
	nulls := r.nullBitmap(uint64(len(cols)))
	if r.err != nil {
		return r.err
	}
	for i, c := range cols {
		if nullBitmap(nulls).isSet(i) {
			continue
		}
		if err := skipColumnValue(r, c.Type, c.Meta); err != nil {
			return err
		}
	}
	return nil
}
