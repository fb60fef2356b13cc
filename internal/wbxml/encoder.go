package wbxml

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Encoder writes a WBXML token stream for the EAS code pages in
// tokens.go. It always sets the content bit on a started tag and
// always emits a matching END byte — a valid, if not maximally
// compact, encoding; real EAS servers decode it identically to the
// degenerate (self-closing) form, and not pre-computing emptiness
// keeps the API streaming rather than tree-buffering.
//
// Grounded on gleroi-wbxml/encoder.go for the SWITCH_PAGE/STR_I/OPAQUE
// byte-level algorithm and the "switch page only on change" cursor
// tracking; the simplified always-has-content tag encoding is specific
// to this module.
type Encoder struct {
	w       *bufio.Writer
	curPage Page
	open    []TokenId
	err     error
}

// NewEncoder wraps w and immediately writes the WBXML header (version
// 1.3, public id 1 "unknown", charset UTF-8, empty string table).
func NewEncoder(w io.Writer) (*Encoder, error) {
	e := &Encoder{w: bufio.NewWriter(w)}
	if err := e.writeHeader(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Encoder) writeHeader() error {
	if err := e.w.WriteByte(wbxmlVersion); err != nil {
		return err
	}
	if err := e.writeMbUint(uint32(publicIDUnknownInline)); err != nil {
		return err
	}
	if err := e.writeMbUint(charsetUTF8); err != nil {
		return err
	}
	return e.writeMbUint(0) // empty string table
}

func (e *Encoder) writeMbUint(v uint32) error {
	var buf [5]byte
	i := len(buf)
	i--
	buf[i] = byte(v & 0x7f)
	v >>= 7
	for v > 0 {
		i--
		buf[i] = byte(v&0x7f) | 0x80
		v >>= 7
	}
	_, err := e.w.Write(buf[i:])
	return err
}

// switchPage emits a SWITCH_PAGE token only when the target page
// differs from the encoder's current cursor, matching gleroi's
// switchTagPage optimization.
func (e *Encoder) switchPage(p Page) error {
	if p == e.curPage {
		return nil
	}
	if err := e.w.WriteByte(globalSwitchPage); err != nil {
		return err
	}
	if err := e.w.WriteByte(byte(p)); err != nil {
		return err
	}
	e.curPage = p
	return nil
}

// StartTag opens an element by symbolic name, switching code pages as
// needed, and pushes it onto the open-tag stack for EndTag to close.
func (e *Encoder) StartTag(name string) error {
	id, ok := TokenFor(name)
	if !ok {
		return fmt.Errorf("wbxml: encoder: unknown tag name %q", name)
	}
	if err := e.switchPage(id.Page()); err != nil {
		return err
	}
	if err := e.w.WriteByte(tagHasContentMask | id.Tag()); err != nil {
		return err
	}
	e.open = append(e.open, id)
	return nil
}

// EndTag closes the most recently opened tag.
func (e *Encoder) EndTag() error {
	if len(e.open) == 0 {
		return fmt.Errorf("wbxml: encoder: EndTag with no open tag")
	}
	e.open = e.open[:len(e.open)-1]
	return e.w.WriteByte(globalEnd)
}

// Text writes an inline string (STR_I) as the current element's
// content.
func (e *Encoder) Text(s string) error {
	if err := e.w.WriteByte(globalStrI); err != nil {
		return err
	}
	if _, err := e.w.WriteString(s); err != nil {
		return err
	}
	return e.w.WriteByte(0x00)
}

// IntValue writes an integer as its decimal string form — EAS encodes
// all scalar content, including enums, as STR_I text.
func (e *Encoder) IntValue(n int) error {
	return e.Text(strconv.Itoa(n))
}

// Opaque writes a length-prefixed binary blob (OPAQUE), used for
// AirSyncBase MIME bodies and binary attachment content.
func (e *Encoder) Opaque(b []byte) error {
	if err := e.w.WriteByte(globalOpaque); err != nil {
		return err
	}
	if err := e.writeMbUint(uint32(len(b))); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

// Element writes StartTag(name), Text(value), EndTag() in sequence —
// the common case of a leaf field with a single string value.
func (e *Encoder) Element(name, value string) error {
	if err := e.StartTag(name); err != nil {
		return err
	}
	if err := e.Text(value); err != nil {
		return err
	}
	return e.EndTag()
}

// IntElement writes StartTag(name), IntValue(n), EndTag() in sequence.
func (e *Encoder) IntElement(name string, n int) error {
	if err := e.StartTag(name); err != nil {
		return err
	}
	if err := e.IntValue(n); err != nil {
		return err
	}
	return e.EndTag()
}

// Flush flushes the underlying writer. Callers must call Flush (or Close
// a wrapping stream) after the last EndTag to guarantee all bytes reach
// the transport.
func (e *Encoder) Flush() error {
	if len(e.open) != 0 {
		return fmt.Errorf("wbxml: encoder: Flush with %d unclosed tag(s)", len(e.open))
	}
	return e.w.Flush()
}
