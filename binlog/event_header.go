package binlog

// eventHeaderSize is the on-wire size of a v4 binlog event header.
const eventHeaderSize = 19

// EventHeader represents the common binlog event header.
//
// https://dev.mysql.com/doc/internals/en/binlog-event-header.html
type EventHeader struct {
	Timestamp uint32    // seconds since unix epoch
	EventType EventType // binlog event type
	ServerID  uint32    // server-id of the originating server
	EventSize uint32    // size of the event including this header
	NextPos   uint32    // offset of the next event in the same file
	Flags     uint16
}

func (h *EventHeader) decode(r *reader) error {
	h.Timestamp = r.int4()
	h.EventType = EventType(r.int1())
	h.ServerID = r.int4()
	h.EventSize = r.int4()
	h.NextPos = r.int4()
	h.Flags = r.int2()
	if r.err != nil {
		return r.err
	}
	if h.EventSize < eventHeaderSize {
		return ErrProtocol.New("event shorter than its header")
	}
	return nil
}
