// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package textsmtp

import (
	"bufio"
)

var (
	crnl    = []byte{'\r', '\n'}
	dotcrnl = []byte{'.', '\r', '\n'}
)

// DotWriter writes a DATA payload in dot-encoding. Every line starting
// with '.' gets a second '.' prepended, a bare \n or \r becomes \r\n and
// Close terminates the payload with ".\r\n" on a line of its own. The
// output does not depend on how the payload is split across writes.
//
// The caller must Close the DotWriter before the next command is written.
type DotWriter struct {
	w       *bufio.Writer
	state   int
	written int64
}

// NewDotWriter returns a DotWriter writing to w.
func NewDotWriter(w *bufio.Writer) *DotWriter {
	return &DotWriter{w: w, state: stateBegin}
}

const (
	stateBegin     = iota // nothing written yet
	stateBeginLine        // at the start of a line
	stateCR               // last byte written was \r
	stateData             // in the middle of a line
)

// Written returns the number of encoded bytes handed to the buffer so far,
// stuffing and terminator included.
func (d *DotWriter) Written() int64 {
	return d.written
}

func (d *DotWriter) Write(b []byte) (n int, err error) {
	for _, c := range b {
		if d.state == stateCR {
			// \r always ends the line, a following \n belongs to it
			if err = d.writeByte('\n'); err != nil {
				return n, err
			}
			d.state = stateBeginLine
			if c == '\n' {
				n++
				continue
			}
		}

		if (d.state == stateBegin || d.state == stateBeginLine) && c == '.' {
			if err = d.writeByte('.'); err != nil {
				return n, err
			}
		}

		switch c {
		case '\r':
			err = d.writeByte('\r')
			d.state = stateCR
		case '\n':
			err = d.write(crnl)
			d.state = stateBeginLine
		default:
			err = d.writeByte(c)
			d.state = stateData
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Close ends the current line if necessary, writes the terminator and
// flushes the buffer.
func (d *DotWriter) Close() error {
	switch d.state {
	case stateCR:
		// a trailing \r counts as a line break
		if err := d.writeByte('\n'); err != nil {
			return err
		}
	case stateBegin, stateData:
		if err := d.write(crnl); err != nil {
			return err
		}
	}
	if err := d.write(dotcrnl); err != nil {
		return err
	}
	d.state = stateBeginLine
	return d.w.Flush()
}

func (d *DotWriter) write(p []byte) error {
	n, err := d.w.Write(p)
	d.written += int64(n)
	return err
}

func (d *DotWriter) writeByte(c byte) error {
	if err := d.w.WriteByte(c); err != nil {
		return err
	}
	d.written++
	return nil
}
