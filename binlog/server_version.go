package binlog

import (
	"fmt"
	"strconv"
	"strings"
)

type serverVersion []int

func newServerVersion(str string) (serverVersion, error) {
	s := str
	// MariaDB versions may carry a "5.5.5-" replication hack prefix
	// and build suffixes after '-' or '+'.
	s = strings.TrimPrefix(s, "5.5.5-")
	if i := strings.IndexByte(s, '-'); i != -1 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '+'); i != -1 {
		s = s[:i]
	}
	var sv serverVersion
	for _, v := range strings.Split(s, ".") {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("binlog: invalid serverVersion %q", str)
		}
		sv = append(sv, n)
	}
	if len(sv) != 3 {
		return nil, fmt.Errorf("binlog: invalid serverVersion %q", str)
	}
	return sv, nil
}

func (sv serverVersion) lt(v serverVersion) bool {
	for i := range sv {
		if sv[i] < v[i] {
			return true
		}
		if sv[i] > v[i] {
			return false
		}
	}
	return false
}

// supportsChecksum tells whether the version is 5.3.0 or later, the
// release from which MariaDB writes the checksum algorithm byte into
// its format description events. The dialect is not considered: MySQL
// writes the byte only from 5.6.1 on, yet MySQL versions from 5.3.0 up
// to 5.6.0 are reported as supporting it as well.
func (sv serverVersion) supportsChecksum() bool {
	return !sv.lt(serverVersion{5, 3, 0})
}

// encoded packs the version the way the query classifier expects it:
// major*10000 + minor*100 + patch.
func (sv serverVersion) encoded() uint32 {
	return uint32(sv[0]*10000 + sv[1]*100 + sv[2])
}
