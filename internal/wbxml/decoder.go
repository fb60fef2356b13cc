package wbxml

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Decoder reads a WBXML token stream and exposes it as a sequence of
// syntactic events, matching the pull-parser contract spec.md §4.B
// describes: call next() (or the nextTag convenience) to advance, then
// read the Event/Tag/Value fields it leaves behind.
//
// A Decoder is not safe for concurrent use; each Sync exchange gets its
// own Decoder over its own response body.
type Decoder struct {
	r      *bufio.Reader
	logger *slog.Logger
	offset int

	curPage Page
	stack   []TokenId
	depth   int
	queue   []pendingEvent
	done    bool

	Event Event
	Tag   TokenId
	Value []byte

	// PublicID and Charset are recorded from the header for
	// diagnostics; the string table itself is not supported (EAS never
	// emits one), so a non-empty one is skipped with a warning and never
	// resolved.
	PublicID uint32
	Charset  uint32
}

type pendingEvent struct {
	event Event
	tag   TokenId
	value []byte
}

// NewDecoder wraps r and reads the WBXML header immediately, so an
// early malformed-header failure surfaces at construction rather than
// on the first next() call.
func NewDecoder(r io.Reader, logger *slog.Logger) (*Decoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Decoder{r: bufio.NewReader(r), logger: logger}
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decoder) fail(err error) error {
	return &DecodeError{Offset: d.offset, Err: err}
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	d.offset++
	return b, nil
}

func (d *Decoder) readBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(d.r, buf)
	d.offset += read
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return buf, nil
}

// readMbUint reads a WBXML multi-byte unsigned integer: each byte
// contributes its low 7 bits, continuing while the high bit is set.
// max bounds the number of bytes consumed, guarding against a
// malformed stream that never terminates the sequence.
func (d *Decoder) readMbUint(max int) (uint32, error) {
	var result uint32
	for i := 0; i < max; i++ {
		b, err := d.readByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, ErrTruncated
			}
			return 0, err
		}
		result = (result << 7) | uint32(b&0x7f)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, ErrMbUintOverflow
}

// readCString reads a NUL-terminated inline string and applies charset
// tolerance: if the bytes are not valid UTF-8 (a quirk some EAS server
// implementations exhibit even when the header claims UTF-8), the
// string is reinterpreted as Windows-1252 rather than rejected
// outright. The header's declared charset is not consulted.
func (d *Decoder) readCString() ([]byte, error) {
	var buf []byte
	for {
		b, err := d.readByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrTruncated
			}
			return nil, err
		}
		if b == 0x00 {
			break
		}
		buf = append(buf, b)
	}
	return d.ensureUTF8(buf), nil
}

// ensureUTF8 mirrors the tolerant-decode pattern used for inbound
// mail in this codebase's mail-sync analogues: keep valid UTF-8 as is,
// and otherwise fall back to a best-effort reinterpretation
// rather than surfacing mojibake or an outright decode error when a
// server's bytes don't match its own header.
func (d *Decoder) ensureUTF8(raw []byte) []byte {
	if utf8.Valid(raw) {
		return raw
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		d.logger.Debug("wbxml: inline string is neither valid UTF-8 nor Windows-1252, keeping raw bytes",
			slog.Int("offset", d.offset))
		return raw
	}
	d.logger.Debug("wbxml: reinterpreted non-UTF-8 inline string as Windows-1252",
		slog.Int("offset", d.offset))
	return decoded
}

func (d *Decoder) readHeader() error {
	version, err := d.readByte()
	if err != nil {
		return d.fail(fmt.Errorf("read version: %w", err))
	}
	if version != wbxmlVersion {
		d.logger.Warn("wbxml: unexpected version byte", slog.Int("version", int(version)))
	}

	publicID, err := d.readMbUint(5)
	if err != nil {
		return d.fail(fmt.Errorf("read public id: %w", err))
	}
	if publicID == 0 {
		// Public identifier is a string-table reference; EAS never uses
		// one, but consume the index so the stream stays aligned.
		if _, err := d.readMbUint(5); err != nil {
			return d.fail(fmt.Errorf("read public id string table index: %w", err))
		}
	}
	d.PublicID = publicID

	charset, err := d.readMbUint(5)
	if err != nil {
		return d.fail(fmt.Errorf("read charset: %w", err))
	}
	d.Charset = charset

	tableLen, err := d.readMbUint(5)
	if err != nil {
		return d.fail(fmt.Errorf("read string table length: %w", err))
	}
	if tableLen > 0 {
		if _, err := d.readBytes(int(tableLen)); err != nil {
			return d.fail(fmt.Errorf("read string table: %w", err))
		}
		d.logger.Warn("wbxml: stream carries a non-empty string table, which this decoder does not resolve",
			slog.Int("length", int(tableLen)))
	}
	return nil
}

// skipAttributes discards an attribute list: EAS never emits
// attributes on any tag this module decodes, so this exists only to
// keep the stream aligned if a nonconforming server sends one, and is
// not separately tested against a golden stream.
func (d *Decoder) skipAttributes() error {
	for {
		b, err := d.readByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrTruncated
			}
			return err
		}
		switch b {
		case globalEnd:
			return nil
		case globalSwitchPage:
			if _, err := d.readByte(); err != nil {
				return err
			}
		case globalStrI:
			if _, err := d.readCString(); err != nil {
				return err
			}
		case globalOpaque:
			n, err := d.readMbUint(5)
			if err != nil {
				return err
			}
			if _, err := d.readBytes(int(n)); err != nil {
				return err
			}
		case globalEntity:
			if _, err := d.readMbUint(5); err != nil {
				return err
			}
		default:
			// Attribute start token (page-specific attribute codes are
			// not part of the EAS token table we implement); nothing
			// further to read for it beyond the byte itself.
		}
	}
}

// next advances the Decoder by one syntactic event and updates Event,
// Tag and Value. Call repeatedly until Event == EventEndDocument.
func (d *Decoder) next() error {
	if len(d.queue) > 0 {
		e := d.queue[0]
		d.queue = d.queue[1:]
		d.Event, d.Tag, d.Value = e.event, e.tag, e.value
		if e.event == EventEndTag {
			d.depth--
		}
		return nil
	}
	if d.done {
		d.Event = EventEndDocument
		return nil
	}

	b, err := d.readByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(d.stack) > 0 {
				return d.fail(errors.New("unexpected end of stream with open tags"))
			}
			d.done = true
			d.Event = EventEndDocument
			return nil
		}
		return d.fail(err)
	}

	switch b {
	case globalSwitchPage:
		pg, err := d.readByte()
		if err != nil {
			return d.fail(fmt.Errorf("read switch page target: %w", err))
		}
		d.curPage = Page(pg)
		return d.next()

	case globalEnd:
		if len(d.stack) == 0 {
			return d.fail(errors.New("unmatched END token"))
		}
		d.Tag = d.stack[len(d.stack)-1]
		d.stack = d.stack[:len(d.stack)-1]
		d.Event = EventEndTag
		d.depth--
		return nil

	case globalStrI:
		s, err := d.readCString()
		if err != nil {
			return d.fail(fmt.Errorf("read inline string: %w", err))
		}
		d.Value = s
		d.Event = EventText
		return nil

	case globalOpaque:
		n, err := d.readMbUint(5)
		if err != nil {
			return d.fail(fmt.Errorf("read opaque length: %w", err))
		}
		buf, err := d.readBytes(int(n))
		if err != nil {
			return d.fail(fmt.Errorf("read opaque content: %w", err))
		}
		d.Value = buf
		d.Event = EventOpaque
		return nil

	case globalEntity:
		cp, err := d.readMbUint(5)
		if err != nil {
			return d.fail(fmt.Errorf("read entity: %w", err))
		}
		d.Value = []byte(string(rune(cp)))
		d.Event = EventText
		return nil

	case globalLiteral, globalLiteralA, globalLiteralC, globalLiteralAc:
		return d.fail(errors.New("literal tag tokens are not supported by the EAS token table"))

	default:
		hasAttrs := b&tagHasAttrsMask != 0
		hasContent := b&tagHasContentMask != 0
		tagNum := b & tagIDMask

		if hasAttrs {
			if err := d.skipAttributes(); err != nil {
				return d.fail(fmt.Errorf("skip attributes: %w", err))
			}
		}

		id := NewTokenId(d.curPage, tagNum)
		d.depth++
		if hasContent {
			d.stack = append(d.stack, id)
			d.Tag = id
			d.Event = EventStartTag
			return nil
		}

		// Degenerate (empty) element: emit StartTag now, queue the
		// matching EndTag so the next() call sees it immediately.
		d.queue = append(d.queue, pendingEvent{event: EventEndTag, tag: id})
		d.Tag = id
		d.Event = EventStartTag
		return nil
	}
}

// Next is the exported form of next(), advancing one syntactic event.
func (d *Decoder) Next() error { return d.next() }

// NextTag advances past any intervening TEXT/OPAQUE events until it
// reaches a START_TAG, an END_TAG, or END_DOCUMENT. expectedParent is
// advisory: when the decoder lands on an END_TAG that does not match
// it, that's a caller bug (unbalanced nextTag/skipTag calls upstream),
// surfaced as a *DecodeError rather than silently continuing to scan.
func (d *Decoder) NextTag(expectedParent TokenId) error {
	for {
		if err := d.next(); err != nil {
			return err
		}
		switch d.Event {
		case EventText, EventOpaque:
			continue
		case EventEndTag:
			if expectedParent != 0 && d.Tag != expectedParent {
				return d.fail(fmt.Errorf("unbalanced tag nesting: expected END_TAG for %s, got %s",
					NameOf(expectedParent), NameOf(d.Tag)))
			}
			return nil
		default:
			return nil
		}
	}
}

// GetValue returns the current TEXT/OPAQUE value as a string.
func (d *Decoder) GetValue() string {
	return string(d.Value)
}

// GetValueInt parses the current TEXT value as a base-10 integer. EAS
// never encodes numeric content as binary; all scalar values, including
// enums and counters, are transmitted as decimal STR_I strings.
func (d *Decoder) GetValueInt() (int, error) {
	n, err := strconv.Atoi(string(d.Value))
	if err != nil {
		return 0, fmt.Errorf("wbxml: value %q is not an integer: %w", d.Value, err)
	}
	return n, nil
}

// ReadLeafText reads a simple text-valued element: the Decoder must be
// positioned just after that element's START_TAG (Tag holds the
// element being read). It consumes the TEXT event, if any — an empty
// element has none — and the matching END_TAG, leaving the Decoder
// ready for the parent's next NextTag call.
func (d *Decoder) ReadLeafText() (string, error) {
	startTag := d.Tag
	if err := d.next(); err != nil {
		return "", err
	}
	var value string
	if d.Event == EventText {
		value = d.GetValue()
		if err := d.next(); err != nil {
			return "", err
		}
	}
	if d.Event != EventEndTag || d.Tag != startTag {
		return "", d.fail(fmt.Errorf("unbalanced tag nesting: expected END_TAG for %s, got %s",
			NameOf(startTag), d.Event))
	}
	return value, nil
}

// ReadLeafInt reads a simple integer-valued element the same way
// ReadLeafText does, then parses it as base-10; an empty element
// decodes to 0, matching spec.md's getValueInt() contract.
func (d *Decoder) ReadLeafInt() (int, error) {
	v, err := d.ReadLeafText()
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("wbxml: leaf value %q is not an integer: %w", v, err)
	}
	return n, nil
}

// SkipTag discards an entire subtree: called immediately after a
// START_TAG event, it consumes events until the matching END_TAG,
// including any nested tags, text, and opaque content, without
// exposing any of it to the caller. Used for fields a parser does not
// recognize (per spec.md's forward-compatibility requirement) and for
// fields a parser recognizes but intentionally ignores.
func (d *Decoder) SkipTag() error {
	if d.Event != EventStartTag {
		return d.fail(errors.New("SkipTag called outside a START_TAG event"))
	}
	target := d.depth
	for d.depth >= target {
		if err := d.next(); err != nil {
			return err
		}
		if d.Event == EventEndDocument {
			return d.fail(errors.New("end of document while skipping a tag"))
		}
	}
	return nil
}
