/*
Package binlog implements the client side of the MariaDB/MySQL binary
log replication protocol.

A Remote connects to a server, authenticates, registers as a slave and
requests a binlog dump by file+offset or by GTID (both the MariaDB and
the MySQL dialect are supported):

	bl, err := binlog.Dial("tcp", "127.0.0.1:3306")
	if err != nil {
		return err
	}
	if err := bl.Authenticate("repl", "secret"); err != nil {
		return err
	}
	if err := bl.StartDumpFile(1, "binlog.000001", 4); err != nil {
		return err
	}
	for {
		ev, err := bl.NextEvent()
		if err != nil {
			return err
		}
		// ev.Data is one of the XxxEvent types
	}

Events are decoded into typed records. Row events keep their images as
raw bytes; only the image boundaries are computed from the column
metadata of the preceding table map event.

Events can be routed through a Pipeline of content handlers, each of
which may keep, replace or consume an event and may inject synthetic
events of its own.

OpenFile reads the same events from a binlog file on disk.
*/
package binlog
