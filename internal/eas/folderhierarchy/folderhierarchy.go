// Package folderhierarchy parses and serializes the EAS <FolderSync>
// exchange (code page 7). It is a second, independent consumer of
// internal/wbxml's Token Table/Decoder/Encoder, proving the codec is not
// Sync-specific: a folder is a plain Add/Update/Delete list, not a
// collection with reconciliation semantics, so it never implements
// sync.CollectionCodec.
package folderhierarchy

import (
	"fmt"
	"io"

	"github.com/nugget/easync/internal/wbxml"
)

// Folder operation kinds within a <FolderSync> response.
const (
	OpAdd = iota
	OpUpdate
	OpDelete
)

// Change is one folder Add/Update/Delete entry.
type Change struct {
	Op          int
	ServerID    string
	ParentID    string
	DisplayName string
	Type        int
}

// Response is a decoded <FolderSync> server response.
type Response struct {
	Status  int
	SyncKey string
	Changes []Change
}

// DecodeResponse reads a full <FolderSync> response body.
func DecodeResponse(body io.Reader) (*Response, error) {
	dec, err := wbxml.NewDecoder(body, nil)
	if err != nil {
		return nil, err
	}

	if err := dec.Next(); err != nil {
		return nil, err
	}
	if dec.Event != wbxml.EventStartTag || wbxml.NameOf(dec.Tag) != "FolderSync" {
		return nil, fmt.Errorf("folderhierarchy: expected FolderSync, got %v %v", dec.Event, wbxml.NameOf(dec.Tag))
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
		case "SyncKey":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			resp.SyncKey = v
		case "Changes":
			changes, err := decodeChanges(dec)
			if err != nil {
				return nil, err
			}
			resp.Changes = changes
		default:
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
		}
	}

	return resp, nil
}

func decodeChanges(dec *wbxml.Decoder) ([]Change, error) {
	changesTag := dec.Tag
	var result []Change

	for {
		if err := dec.NextTag(changesTag); err != nil {
			return nil, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}

		var op int
		switch wbxml.NameOf(dec.Tag) {
		case "Add":
			op = OpAdd
		case "Update":
			op = OpUpdate
		case "Delete":
			op = OpDelete
		default:
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
			continue
		}

		change, err := decodeFolder(dec, op)
		if err != nil {
			return nil, err
		}
		result = append(result, change)
	}

	return result, nil
}

func decodeFolder(dec *wbxml.Decoder, op int) (Change, error) {
	folderTag := dec.Tag
	change := Change{Op: op}

	for {
		if err := dec.NextTag(folderTag); err != nil {
			return Change{}, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		switch wbxml.NameOf(dec.Tag) {
		case "ServerId":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Change{}, err
			}
			change.ServerID = v
		case "ParentId":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Change{}, err
			}
			change.ParentID = v
		case "DisplayName":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Change{}, err
			}
			change.DisplayName = v
		case "Type":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Change{}, err
			}
			change.Type = n
		default:
			if err := dec.SkipTag(); err != nil {
				return Change{}, err
			}
		}
	}

	return change, nil
}

// EncodeRequest writes the outgoing <FolderSync> request body for the
// given sync key ("0" to initialize the hierarchy).
func EncodeRequest(w io.Writer, syncKey string) error {
	enc, err := wbxml.NewEncoder(w)
	if err != nil {
		return err
	}
	if err := enc.StartTag("FolderSync"); err != nil {
		return err
	}
	if err := enc.Element("SyncKey", syncKey); err != nil {
		return err
	}
	if err := enc.EndTag(); err != nil {
		return err
	}
	return enc.Flush()
}
