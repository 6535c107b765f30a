// Package tableparser extracts the names of the tables a DML or DDL
// statement writes to. It is used on statement-based replication
// events, which carry only the SQL text.
//
// The extractor is a hand-written tokenizer, not a SQL parser. Missing
// a table merely degrades observability, but attributing a change to
// the wrong table is never acceptable: when a statement does not match
// one of the known shapes exactly, nothing is returned.
package tableparser

// TableRef is one extracted table reference. Db is empty when the
// statement did not qualify the table; the caller resolves that
// against the current schema of the originating event.
type TableRef struct {
	Db    string
	Table string
}

// Tables returns the tables written by a tracked statement. ok is
// false when the statement is not one of the tracked kinds (INSERT,
// REPLACE, UPDATE, DELETE, LOAD DATA, CREATE TABLE, DROP TABLE).
func Tables(sql string) (refs []TableRef, ok bool) {
	p := &parser{src: sql}
	switch {
	case p.keyword("INSERT"):
		p.keyword("LOW_PRIORITY", "DELAYED", "HIGH_PRIORITY")
		p.keyword("IGNORE")
		if !p.keyword("INTO") {
			return nil, false
		}
		return p.oneTable()
	case p.keyword("REPLACE"):
		p.keyword("LOW_PRIORITY", "DELAYED")
		p.keyword("INTO")
		return p.oneTable()
	case p.keyword("UPDATE"):
		p.keyword("LOW_PRIORITY")
		p.keyword("IGNORE")
		return p.tableList()
	case p.keyword("DELETE"):
		for p.keyword("LOW_PRIORITY", "QUICK", "IGNORE") {
		}
		if !p.keyword("FROM") {
			return nil, false
		}
		return p.tableList()
	case p.keyword("LOAD"):
		if !p.keyword("DATA") {
			return nil, false
		}
		if !p.skimTo("INTO") {
			return nil, false
		}
		p.keyword("TABLE")
		return p.oneTable()
	case p.keyword("CREATE"):
		p.keyword("TEMPORARY")
		if !p.keyword("TABLE") {
			return nil, false
		}
		if p.keyword("IF") {
			if !p.keyword("NOT") || !p.keyword("EXISTS") {
				return nil, false
			}
		}
		return p.oneTable()
	case p.keyword("DROP"):
		if !p.keyword("TABLE") {
			return nil, false
		}
		if p.keyword("IF") {
			if !p.keyword("EXISTS") {
				return nil, false
			}
		}
		return p.tableList()
	}
	return nil, false
}

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

// keyword consumes one of the given keywords, case-insensitively and
// only at a word boundary.
func (p *parser) keyword(words ...string) bool {
	p.skipSpace()
	for _, w := range words {
		if len(p.src)-p.pos < len(w) {
			continue
		}
		if !equalFold(p.src[p.pos:p.pos+len(w)], w) {
			continue
		}
		if end := p.pos + len(w); end < len(p.src) && isWordByte(p.src[end]) {
			continue
		}
		p.pos += len(w)
		return true
	}
	return false
}

// ident consumes a bare or quoted identifier.
func (p *parser) ident() (string, bool) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return "", false
	}
	if q := p.src[p.pos]; q == '`' || q == '"' {
		return p.quoted(q)
	}
	start := p.pos
	digitsOnly := true
	for p.pos < len(p.src) && isWordByte(p.src[p.pos]) {
		if c := p.src[p.pos]; c < '0' || c > '9' {
			digitsOnly = false
		}
		p.pos++
	}
	// a bare identifier may not consist solely of digits
	if p.pos == start || digitsOnly {
		return "", false
	}
	return p.src[start:p.pos], true
}

// quoted consumes a quoted identifier; a doubled quote stands for one
// literal quote character.
func (p *parser) quoted(q byte) (string, bool) {
	p.pos++ // opening quote
	var out []byte
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == q {
			if p.pos+1 < len(p.src) && p.src[p.pos+1] == q {
				out = append(out, q)
				p.pos += 2
				continue
			}
			p.pos++
			return string(out), true
		}
		out = append(out, c)
		p.pos++
	}
	return "", false // unterminated
}

// tableRef consumes ident or ident.ident.
func (p *parser) tableRef() (TableRef, bool) {
	first, ok := p.ident()
	if !ok {
		return TableRef{}, false
	}
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '.' {
		p.pos++
		second, ok := p.ident()
		if !ok {
			return TableRef{}, false
		}
		return TableRef{Db: first, Table: second}, true
	}
	return TableRef{Table: first}, true
}

func (p *parser) oneTable() ([]TableRef, bool) {
	ref, ok := p.tableRef()
	if !ok {
		return nil, false
	}
	return []TableRef{ref}, true
}

func (p *parser) tableList() ([]TableRef, bool) {
	var refs []TableRef
	for {
		ref, ok := p.tableRef()
		if !ok {
			return nil, false
		}
		refs = append(refs, ref)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		return refs, true
	}
}

// skimTo advances past arbitrary tokens until the given keyword is
// found at a word boundary. String literals are skipped whole so that
// a keyword inside quotes does not match.
func (p *parser) skimTo(word string) bool {
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return false
		}
		switch c := p.src[p.pos]; c {
		case '\'', '"':
			if !p.skipString(c) {
				return false
			}
		case '`':
			if _, ok := p.quoted(c); !ok {
				return false
			}
		default:
			if isWordByte(c) {
				start := p.pos
				for p.pos < len(p.src) && isWordByte(p.src[p.pos]) {
					p.pos++
				}
				if equalFold(p.src[start:p.pos], word) {
					return true
				}
			} else {
				p.pos++
			}
		}
	}
}

// skipString passes over a string literal, honoring both doubled-quote
// and backslash escapes.
func (p *parser) skipString(q byte) bool {
	p.pos++
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; c {
		case '\\':
			p.pos += 2
		case q:
			if p.pos+1 < len(p.src) && p.src[p.pos+1] == q {
				p.pos += 2
				continue
			}
			p.pos++
			return true
		default:
			p.pos++
		}
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
