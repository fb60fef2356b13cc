// Package email implements the EAS Email collection's Parser/Serializer:
// it turns an <ApplicationData> subtree into a Message record and, for
// the narrow set of edits EAS allows a device to push back, turns a
// local edit into outgoing ApplicationData. It implements
// internal/sync.CollectionCodec; the Sync driver never inspects a
// Message directly.
//
// Grounded on teacher internal/email/email.go for the Envelope/Message
// field shape and doc-comment density, adapted from an IMAP-fetched
// message to one decoded from an EAS <Add>/<Change> command.
package email

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nugget/easync/internal/wbxml"
)

// BodyType is the AirSyncBase <Body><Type> enum EAS uses to describe
// how a message body was encoded.
type BodyType int

const (
	BodyTypePlainText BodyType = 1
	BodyTypeHTML      BodyType = 2
	BodyTypeRTF       BodyType = 3
	BodyTypeMIME      BodyType = 4
)

// Message is the canonical record an Add or Change command decodes
// into. Only the fields spec.md names are modeled; unrecognized
// ApplicationData children are skipped, not stored.
type Message struct {
	From    string
	To      []string
	Cc      []string
	ReplyTo string
	Subject string

	// DateReceived is the server's DateReceived field, decoded from its
	// ISO-8601-with-milliseconds wire form.
	DateReceived time.Time

	// Read mirrors the AirSync <Read> flag.
	Read bool

	// Body is the message body in whatever form the server sent it —
	// BodyType records which.
	Body          string
	BodyType      BodyType
	BodyTruncated bool

	Attachments []Attachment
}

// Attachment is one AirSyncBase <Attachment>. Per spec.md §4.E, an
// attachment missing any of DisplayName, Size, or FileReference is
// silently dropped during decode rather than stored incomplete.
type Attachment struct {
	DisplayName   string
	FileReference string
	Size          int64
	ContentID     string
	IsInline      bool
}

// ReadStatus is the only local edit Email upsync ever emits for an
// existing message: a read/unread flag change, encoded as
// <ApplicationData><Read>. Trash moves are emitted as a Delete command
// by the Sync driver with no ApplicationData at all, so they need no
// record type here.
type ReadStatus struct {
	Read bool
}

// Codec implements internal/sync.CollectionCodec for the Email
// collection class.
type Codec struct{}

// NewCodec returns an Email CollectionCodec.
func NewCodec() *Codec { return &Codec{} }

// Class implements sync.CollectionCodec.
func (c *Codec) Class() string { return "Email" }

// DecodeApplicationData implements sync.CollectionCodec. dec must be
// positioned just after ApplicationData's START_TAG.
func (c *Codec) DecodeApplicationData(dec *wbxml.Decoder) (any, error) {
	appTag := dec.Tag
	msg := &Message{}

	for {
		if err := dec.NextTag(appTag); err != nil {
			return nil, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}

		switch wbxml.NameOf(dec.Tag) {
		case "From":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			msg.From = v
		case "To":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			msg.To = splitAddressList(v)
		case "Cc":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			msg.Cc = splitAddressList(v)
		case "ReplyTo":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			msg.ReplyTo = v
		case "Subject":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			msg.Subject = v
		case "DateReceived":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			if t, parseErr := parseEASDateTime(v); parseErr == nil {
				msg.DateReceived = t
			}
		case "Read":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			msg.Read = n != 0
		case "Body":
			body, truncated, bodyType, err := decodeBody(dec)
			if err != nil {
				return nil, fmt.Errorf("email: decode body: %w", err)
			}
			msg.Body = body
			msg.BodyTruncated = truncated
			msg.BodyType = bodyType
		case "Attachments":
			atts, err := decodeAttachments(dec)
			if err != nil {
				return nil, fmt.Errorf("email: decode attachments: %w", err)
			}
			msg.Attachments = atts
		default:
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
		}
	}

	return msg, nil
}

// EncodeApplicationData implements sync.CollectionCodec. Per spec.md
// §4.E, Email upsync only ever carries a read-flag change — any other
// local edit is not upsynced, so record must be a *ReadStatus.
func (c *Codec) EncodeApplicationData(enc *wbxml.Encoder, record any) error {
	status, ok := record.(*ReadStatus)
	if !ok {
		return fmt.Errorf("email: cannot encode application data for %T", record)
	}
	return enc.IntElement("Read", boolToInt(status.Read))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// splitAddressList splits an EAS address field on the semicolons EAS
// uses to separate multiple recipients, trimming surrounding whitespace.
func splitAddressList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// easDateTimeLayout is EAS's ISO-8601-with-milliseconds DateReceived
// wire format, e.g. "2014-03-25T11:22:02.000Z".
const easDateTimeLayout = "2006-01-02T15:04:05.000Z"

func parseEASDateTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(easDateTimeLayout, v); err == nil {
		return t, nil
	}
	// Some servers omit the millisecond component; tolerate it.
	return time.Parse("2006-01-02T15:04:05Z", v)
}

// decodeBody reads an AirSyncBase <Body> subtree positioned just after
// its START_TAG, returning the body text (MIME-decoded when Type=4),
// whether the server reported it truncated, and the wire body type.
func decodeBody(dec *wbxml.Decoder) (text string, truncated bool, bodyType BodyType, err error) {
	bodyTag := dec.Tag
	var raw string

	for {
		if err := dec.NextTag(bodyTag); err != nil {
			return "", false, 0, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		switch wbxml.NameOf(dec.Tag) {
		case "Type":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return "", false, 0, err
			}
			bodyType = BodyType(n)
		case "Truncated":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return "", false, 0, err
			}
			truncated = n != 0
		case "Data":
			v, err := dec.ReadLeafText()
			if err != nil {
				return "", false, 0, err
			}
			raw = v
		default:
			if err := dec.SkipTag(); err != nil {
				return "", false, 0, err
			}
		}
	}

	if bodyType == BodyTypeMIME {
		decoded, mimeErr := decodeMIMEBody([]byte(raw))
		if mimeErr != nil {
			return raw, truncated, bodyType, nil
		}
		return decoded, truncated, bodyType, nil
	}
	return raw, truncated, bodyType, nil
}

// decodeAttachments reads an AirSyncBase <Attachments> subtree
// positioned just after its START_TAG.
func decodeAttachments(dec *wbxml.Decoder) ([]Attachment, error) {
	attsTag := dec.Tag
	var result []Attachment

	for {
		if err := dec.NextTag(attsTag); err != nil {
			return nil, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		if wbxml.NameOf(dec.Tag) != "Attachment" {
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
			continue
		}
		att, ok, err := decodeAttachment(dec)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, att)
		} else {
			slog.Default().Debug("email: dropping incomplete attachment",
				slog.String("displayName", att.DisplayName),
				slog.String("size", humanize.Bytes(uint64(att.Size))))
		}
	}

	return result, nil
}

// decodeAttachment reads one <Attachment> element positioned just
// after its START_TAG, returning ok=false when the required
// (DisplayName, Size, FileReference) triple is incomplete — such an
// attachment is silently dropped per spec.md §4.E.
func decodeAttachment(dec *wbxml.Decoder) (att Attachment, ok bool, err error) {
	attTag := dec.Tag
	var sizeSet bool

	for {
		if err := dec.NextTag(attTag); err != nil {
			return Attachment{}, false, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		switch wbxml.NameOf(dec.Tag) {
		case "DisplayName":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Attachment{}, false, err
			}
			att.DisplayName = v
		case "FileReference":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Attachment{}, false, err
			}
			att.FileReference = v
		case "EstimatedDataSize":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Attachment{}, false, err
			}
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Attachment{}, false, fmt.Errorf("attachment size %q: %w", v, err)
			}
			att.Size = n
			sizeSet = true
		case "ContentId":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Attachment{}, false, err
			}
			att.ContentID = v
		case "IsInline":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Attachment{}, false, err
			}
			att.IsInline = n != 0
		default:
			if err := dec.SkipTag(); err != nil {
				return Attachment{}, false, err
			}
		}
	}

	if att.DisplayName == "" || att.FileReference == "" || !sizeSet {
		return att, false, nil
	}
	return att, true, nil
}
