// Package events consumes the control plane's resource event streams and
// folds them into snapshots of the watched resource or list.
package events

import (
	"bytes"
	"strings"
)

// Event names sent by the control plane.
const (
	EventHeartbeat = "HEARTBEAT"
	EventResync    = "RESYNC"
	EventCreated   = "CREATED"
	EventUpdated   = "UPDATED"
	EventDeleted   = "DELETED"
	// EventSnapshot is emitted by the console relay, never by the control plane.
	EventSnapshot = "SNAPSHOT"
)

// Record is one blank-line terminated SSE record.
type Record struct {
	Event   string
	Data    string
	ID      string
	HasData bool
	HasID   bool
}

// Parser assembles records from arbitrary chunks of an SSE byte stream.
// One Parser belongs to one stream.
type Parser struct {
	buf []byte
	rec Record
	set bool
}

// Feed consumes a chunk and returns the records it completed, in order.
// Partial lines are kept until a later chunk completes them.
func (p *Parser) Feed(chunk []byte) []Record {
	p.buf = append(p.buf, chunk...)
	var out []Record
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(p.buf[:i]), "\r")
		p.buf = p.buf[i+1:]
		if rec, ok := p.line(line); ok {
			out = append(out, rec)
		}
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out
}

// Buffered returns the number of bytes of an incomplete line.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

func (p *Parser) line(line string) (Record, bool) {
	if line == "" {
		if !p.set {
			return Record{}, false
		}
		rec := p.rec
		p.rec, p.set = Record{}, false
		return rec, true
	}
	if strings.HasPrefix(line, ":") {
		return Record{}, false
	}
	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch name {
	case "event":
		p.rec.Event = value
	case "data":
		if p.rec.HasData {
			p.rec.Data += "\n" + value
		} else {
			p.rec.Data, p.rec.HasData = value, true
		}
	case "id":
		p.rec.ID, p.rec.HasID = value, true
	default:
		return Record{}, false
	}
	p.set = true
	return Record{}, false
}

// Encode renders rec in SSE wire format, terminated by a blank line.
func Encode(rec Record) []byte {
	var b bytes.Buffer
	if rec.Event != "" {
		b.WriteString("event: ")
		b.WriteString(rec.Event)
		b.WriteByte('\n')
	}
	if rec.HasID {
		b.WriteString("id: ")
		b.WriteString(rec.ID)
		b.WriteByte('\n')
	}
	if rec.HasData {
		for _, l := range strings.Split(rec.Data, "\n") {
			b.WriteString("data: ")
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')
	return b.Bytes()
}
