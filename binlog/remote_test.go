package binlog

import (
	"flag"
	"io"
	"os"
	"strings"
	"testing"
)

// These tests need a running server; they are skipped unless the
// -mysql flag points at one.

func TestRemote_Authenticate(t *testing.T) {
	if *mysqlFlag == "" {
		t.Skip(skipReason)
	}
	bl, err := Dial(network, address)
	if err != nil {
		t.Fatal(err)
	}
	defer bl.Close()
	if err := bl.Authenticate(user, passwd); err != nil {
		t.Fatal(err)
	}
	if _, err := bl.queryRows("SHOW DATABASES"); err != nil {
		t.Fatal(err)
	}
}

func TestRemote_MasterStatusAndListFiles(t *testing.T) {
	if *mysqlFlag == "" {
		t.Skip(skipReason)
	}
	bl, err := Dial(network, address)
	if err != nil {
		t.Fatal(err)
	}
	defer bl.Close()
	if err := bl.Authenticate(user, passwd); err != nil {
		t.Fatal(err)
	}
	file, pos, err := bl.MasterStatus()
	if err != nil {
		t.Fatal(err)
	}
	if file == "" {
		t.Skip("binary logging disabled on test server")
	}
	files, err := bl.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range files {
		if f.Name == file {
			found = true
			if uint64(pos) > f.Size {
				t.Fatalf("master position %d past file size %d", pos, f.Size)
			}
		}
	}
	if !found {
		t.Fatalf("current file %s not in SHOW BINARY LOGS", file)
	}
	if err := bl.ValidatePosition(file, pos); err != nil {
		t.Fatal(err)
	}
	if err := bl.ValidatePosition("no-such-binlog.999999", 4); !ErrOutOfRange.Is(err) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestRemote_StreamFromStart(t *testing.T) {
	if *mysqlFlag == "" {
		t.Skip(skipReason)
	}
	bl, err := Dial(network, address)
	if err != nil {
		t.Fatal(err)
	}
	defer bl.Close()
	if err := bl.Authenticate(user, passwd); err != nil {
		t.Fatal(err)
	}
	files, err := bl.ListFiles()
	if err != nil || len(files) == 0 {
		t.Skip("no binlog files on test server")
	}
	if err := bl.StartDumpFile(0, files[0].Name, 4); err != nil {
		t.Fatal(err)
	}
	sawFormatDescription := false
	for i := 0; i < 10; i++ {
		ev, err := bl.NextEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := ev.Data.(*FormatDescriptionEvent); ok {
			sawFormatDescription = true
		}
	}
	if !sawFormatDescription {
		t.Fatal("no format description event in the first events")
	}
}

// test flags ---

var (
	mysqlFlag        = flag.String("mysql", "", "mysql server used for testing")
	network, address string
	user, passwd     string

	skipReason = `SKIPPED: pass -mysql flag to run this test
example: go test -mysql tcp:localhost:3306,user=repl,password=secret
`
)

func TestMain(m *testing.M) {
	flag.Parse()
	if *mysqlFlag != "" {
		colon := strings.IndexByte(*mysqlFlag, ':')
		network, address = (*mysqlFlag)[:colon], (*mysqlFlag)[colon+1:]
		tok := strings.Split(address, ",")
		address = tok[0]
		for _, t := range tok[1:] {
			switch {
			case strings.HasPrefix(t, "user="):
				user = strings.TrimPrefix(t, "user=")
			case strings.HasPrefix(t, "password="):
				passwd = strings.TrimPrefix(t, "password=")
			}
		}
	}
	os.Exit(m.Run())
}
