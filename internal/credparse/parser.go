// Package credparse decodes the text printed by a credential-manager helper
// into target records.
//
// The helper prints one block per stored credential:
//
//	Target: credcache:target=<encoded entry>
//	Type: Generic
//	User: <user name>
//	Credential: <hex encoded secret>
//
// Blocks are terminated by a blank line (or the end of output). Unknown
// labels are ignored, blocks without a Target are dropped, and targets
// outside the namespace prefix are never surfaced.
package credparse

import (
	"bufio"
	"io"
	"strings"
)

// Labels recognized in helper output.
const (
	LabelTarget     = "Target"
	LabelType       = "Type"
	LabelUser       = "User"
	LabelCredential = "Credential"
)

// maxLineSize bounds a single output line; encoded targets can be long.
const maxLineSize = 1 << 20

// TargetRecord is one credential reported by the helper.
type TargetRecord struct {
	TargetName string
	Type       string
	UserName   string
	// Credential is nil when the helper was not asked to reveal secrets.
	Credential *string
}

// Payload returns the target name with the namespace prefix removed.
func (r TargetRecord) Payload(prefix string) string {
	return strings.TrimPrefix(r.TargetName, prefix)
}

// Parser reads target records from helper output one block at a time.
// A Parser is not restartable; create a new one per helper invocation.
type Parser struct {
	scanner *bufio.Scanner
	prefix  string

	record TargetRecord
	err    error
	done   bool
}

// NewParser returns a Parser reading from r that only surfaces targets
// starting with prefix.
func NewParser(r io.Reader, prefix string) *Parser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Parser{
		scanner: scanner,
		prefix:  prefix,
	}
}

// Next advances to the next record in the namespace. It returns false at
// the end of input or on a read error, which Err reports.
func (p *Parser) Next() bool {
	for !p.done {
		block, ok := p.readBlock()
		if !ok {
			p.done = true
			if err := p.scanner.Err(); err != nil {
				p.err = err
			}
		}
		if rec, valid := p.buildRecord(block); valid {
			p.record = rec
			return true
		}
	}
	return false
}

// Record returns the record found by the last successful call to Next.
func (p *Parser) Record() TargetRecord {
	return p.record
}

// Err returns the first read error encountered, if any.
func (p *Parser) Err() error {
	return p.err
}

// readBlock collects label/value pairs up to the next blank line. ok is
// false when the input is exhausted.
func (p *Parser) readBlock() (block map[string]string, ok bool) {
	block = make(map[string]string)
	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			if len(block) == 0 {
				// consecutive separators
				continue
			}
			return block, true
		}

		label, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		label = strings.TrimSpace(label)
		switch label {
		case LabelTarget, LabelType, LabelUser, LabelCredential:
			// trailing blanks may belong to an encoded value
			block[label] = strings.TrimLeft(value, " \t")
		}
	}
	return block, false
}

func (p *Parser) buildRecord(block map[string]string) (TargetRecord, bool) {
	target, ok := block[LabelTarget]
	if !ok || !strings.HasPrefix(target, p.prefix) {
		return TargetRecord{}, false
	}

	rec := TargetRecord{
		TargetName: target,
		Type:       block[LabelType],
		UserName:   block[LabelUser],
	}
	if cred, ok := block[LabelCredential]; ok {
		rec.Credential = &cred
	}
	return rec, true
}

// Records drains a new Parser over r.
func Records(r io.Reader, prefix string) ([]TargetRecord, error) {
	var records []TargetRecord
	p := NewParser(r, prefix)
	for p.Next() {
		records = append(records, p.Record())
	}
	return records, p.Err()
}
