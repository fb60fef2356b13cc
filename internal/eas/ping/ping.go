// Package ping encodes and decodes the EAS <Ping> heartbeat exchange
// (code page 13): the folder list and interval a device asks the
// server to long-poll on, and the server's response. The long-poll
// loop itself — holding the connection open, honoring the interval —
// is the Transport collaborator's job; this package only speaks the
// wire shape.
package ping

import (
	"fmt"
	"io"

	"github.com/nugget/easync/internal/wbxml"
)

// Folder identifies one collection to watch for changes.
type Folder struct {
	ID    string
	Class string
}

// Request is an outgoing <Ping>.
type Request struct {
	HeartbeatInterval int
	Folders           []Folder
}

// Response is a decoded <Ping> server response.
type Response struct {
	Status            int
	HeartbeatInterval int
	Folders           []string // folder ids that changed
}

// Status values the server returns in a Ping response (MS-ASCMD).
const (
	StatusChangesFound  = 2
	StatusHeartbeatOOR  = 5 // HeartbeatInterval out of the server's allowed range
	StatusFolderInvalid = 6
)

// EncodeRequest writes req as an outgoing <Ping> body.
func EncodeRequest(w io.Writer, req Request) error {
	enc, err := wbxml.NewEncoder(w)
	if err != nil {
		return err
	}
	if err := enc.StartTag("Ping"); err != nil {
		return err
	}
	if req.HeartbeatInterval > 0 {
		if err := enc.IntElement("HeartbeatInterval", req.HeartbeatInterval); err != nil {
			return err
		}
	}
	if len(req.Folders) > 0 {
		if err := enc.StartTag("Folders"); err != nil {
			return err
		}
		for _, f := range req.Folders {
			if err := enc.StartTag("Folder"); err != nil {
				return err
			}
			if err := enc.Element("Id", f.ID); err != nil {
				return err
			}
			if err := enc.Element("Class", f.Class); err != nil {
				return err
			}
			if err := enc.EndTag(); err != nil {
				return err
			}
		}
		if err := enc.EndTag(); err != nil {
			return err
		}
	}
	if err := enc.EndTag(); err != nil {
		return err
	}
	return enc.Flush()
}

// DecodeResponse reads a full <Ping> response body.
func DecodeResponse(body io.Reader) (*Response, error) {
	dec, err := wbxml.NewDecoder(body, nil)
	if err != nil {
		return nil, err
	}

	if err := dec.Next(); err != nil {
		return nil, err
	}
	if dec.Event != wbxml.EventStartTag || wbxml.NameOf(dec.Tag) != "Ping" {
		return nil, fmt.Errorf("ping: expected Ping, got %v %v", dec.Event, wbxml.NameOf(dec.Tag))
	}
	rootTag := dec.Tag
	resp := &Response{}

	for {
		if err := dec.NextTag(rootTag); err != nil {
			return nil, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		switch wbxml.NameOf(dec.Tag) {
		case "Status":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			resp.Status = n
		case "HeartbeatInterval":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			resp.HeartbeatInterval = n
		case "Folders":
			ids, err := decodeFolderIDs(dec)
			if err != nil {
				return nil, err
			}
			resp.Folders = ids
		default:
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
		}
	}

	return resp, nil
}

func decodeFolderIDs(dec *wbxml.Decoder) ([]string, error) {
	foldersTag := dec.Tag
	var ids []string

	for {
		if err := dec.NextTag(foldersTag); err != nil {
			return nil, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		if wbxml.NameOf(dec.Tag) != "Folder" {
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
			continue
		}
		v, err := dec.ReadLeafText()
		if err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}

	return ids, nil
}
