package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/nugget/easync/internal/wbxml"
)

const syncKeyNamespace = "synckey"

// Driver runs one Sync protocol exchange per call to RunOnce: build the
// outgoing envelope (sync key, options, any pending local changes),
// post it through Transport, decode the response, and commit it to
// Store — advancing the persisted sync key only after the local commit
// succeeds, per spec.md §5's exactly-once-per-exchange requirement.
//
// Grounded on other_examples/...wesm-msgvault.../sync.go's Syncer shape
// (client/store/logger/opts fields, New/WithLogger builder methods,
// "advance cursor only on success" checkpoint discipline) adapted from
// a multi-page history sync to a single request/response exchange.
type Driver struct {
	transport Transport
	store     Store
	keys      KeyStore
	mailOut   MailOut
	logger    *slog.Logger
	codecs    map[string]CollectionCodec
}

// New creates a Driver wired to its collaborators and the set of
// per-collection codecs it can drive. A codec's Class() value is its
// key; RunOnce looks up the codec matching the Collection it's given.
func New(transport Transport, store Store, keys KeyStore, codecs ...CollectionCodec) *Driver {
	byClass := make(map[string]CollectionCodec, len(codecs))
	for _, c := range codecs {
		byClass[c.Class()] = c
	}
	return &Driver{
		transport: transport,
		store:     store,
		keys:      keys,
		logger:    slog.Default(),
		codecs:    byClass,
	}
}

// WithLogger sets the logger used for structural warnings and trace
// output; nil restores slog.Default().
func (d *Driver) WithLogger(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d.logger = logger
	return d
}

// WithMailOut sets the meeting-response side-effect collaborator used
// by Calendar reconciliation; optional — a Driver with no MailOut set
// simply can't carry out those side effects, which is a valid
// configuration for Email/Contacts-only callers.
func (d *Driver) WithMailOut(m MailOut) *Driver {
	d.mailOut = m
	return d
}

// RunOnce drives a single Sync exchange for col and returns the
// ChangeBatch decoded from the server's response. The caller is
// responsible for looping (calling RunOnce again while MoreAvailable is
// set, or on the collection's normal poll cadence) — this method never
// loops on its own.
func (d *Driver) RunOnce(ctx context.Context, col Collection) (*ChangeBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	codec, ok := d.codecs[col.Class]
	if !ok {
		return nil, fmt.Errorf("sync: no codec registered for collection class %q", col.Class)
	}

	outgoing, err := d.store.PendingChanges(ctx, col)
	if err != nil {
		return nil, &StoreError{Collection: col.ServerID, Err: fmt.Errorf("pending changes: %w", err)}
	}

	reqBody, err := d.encodeRequest(col, outgoing, codec)
	if err != nil {
		return nil, fmt.Errorf("sync: encode request for %s: %w", col.ServerID, err)
	}

	resp, err := d.transport.PostSync(ctx, col.Class, reqBody)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("sync: post collection %s: %w", col.ServerID, err)
	}
	defer resp.Close()

	batch, newKey, status, err := d.decodeResponse(col, resp, codec)
	if err != nil {
		return nil, &DecodeError{Collection: col.ServerID, Err: err}
	}

	switch status {
	case StatusSuccess:
		// fall through to commit below
	case StatusInvalidSyncKey:
		d.logger.Warn("sync: server reported invalid sync key, wiping collection and resetting to 0",
			slog.String("collection", col.ServerID))
		if wipeErr := d.store.Wipe(ctx, col); wipeErr != nil {
			d.logger.Error("sync: failed to wipe collection after invalid-key status",
				slog.String("collection", col.ServerID), slog.Any("error", wipeErr))
		}
		if resetErr := d.keys.WithLock(syncKeyNamespace, col.ServerID, func(string) (string, error) {
			return "0", nil
		}); resetErr != nil {
			d.logger.Error("sync: failed to reset sync key after invalid-key status",
				slog.String("collection", col.ServerID), slog.Any("error", resetErr))
		}
		return nil, &ServerStatusError{Collection: col.ServerID, Element: "Sync", Status: status}
	case StatusStaleFolderID:
		d.logger.Warn("sync: server reported stale folder id, aborting without advancing",
			slog.String("collection", col.ServerID))
		return nil, &ServerStatusError{Collection: col.ServerID, Element: "Sync", Status: status}
	default:
		d.logger.Warn("sync: unrecognized collection status, aborting without advancing",
			slog.String("collection", col.ServerID), slog.Int("status", status))
		return nil, &ServerStatusError{Collection: col.ServerID, Element: "Sync", Status: status}
	}

	if ie, ok := codec.(InboundEffects); ok {
		previous := d.lookupPrevious(ctx, col.Class, batch)
		if err := ie.OnInboundBatch(ctx, d.mailOut, batch, previous); err != nil {
			return nil, fmt.Errorf("sync: inbound effects for %s: %w", col.ServerID, err)
		}
	}

	d.logger.Debug("sync: applying batch",
		slog.String("collection", col.ServerID),
		slog.String("entries", humanize.Comma(int64(len(batch.Entries)))))
	if br, ok := codec.(BatchRewriter); ok {
		batch = br.RewriteBatch(batch)
	}
	if err := d.store.ApplyBatch(ctx, batch); err != nil {
		return nil, &StoreError{Collection: col.ServerID, Err: err}
	}
	if len(outgoing.Entries) > 0 {
		if err := d.store.MarkSynced(ctx, outgoing); err != nil {
			d.logger.Warn("sync: failed to mark local changes synced",
				slog.String("collection", col.ServerID), slog.Any("error", err))
		}
	}

	if err := d.keys.WithLock(syncKeyNamespace, col.ServerID, func(string) (string, error) {
		return newKey, nil
	}); err != nil {
		return nil, fmt.Errorf("sync: advance sync key for %s: %w", col.ServerID, err)
	}

	return batch, nil
}

// lookupPrevious fetches the previously committed record for every
// server id appearing in batch, keyed by that server id, for codecs
// that implement InboundEffects. Returns nil if store doesn't support
// RecordLookup; a codec receiving a nil map simply treats every entry
// as first-seen.
func (d *Driver) lookupPrevious(ctx context.Context, class string, batch *ChangeBatch) map[string]any {
	lookup, ok := d.store.(RecordLookup)
	if !ok {
		return nil
	}
	previous := make(map[string]any)
	for _, e := range batch.Entries {
		if e.ServerID == "" {
			continue
		}
		if _, seen := previous[e.ServerID]; seen {
			continue
		}
		rec, err := lookup.LookupRecord(ctx, class, e.ServerID)
		if err != nil {
			d.logger.Warn("sync: failed to look up prior record",
				slog.String("serverId", e.ServerID), slog.Any("error", err))
			continue
		}
		if rec != nil {
			previous[e.ServerID] = rec
		}
	}
	return previous
}

// encodeRequest writes the outgoing <Sync><Collections><Collection>
// envelope: sync key, options, and any pending local changes encoded
// through the collection's codec.
func (d *Driver) encodeRequest(col Collection, outgoing *ChangeBatch, codec CollectionCodec) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	w, err := wbxml.NewEncoder(&buf)
	if err != nil {
		return nil, err
	}
	enc := &chainEncoder{enc: w}

	enc.start("Sync")
	enc.start("Collections")
	enc.start("Collection")
	enc.element("SyncKey", col.SyncKey)
	enc.element("CollectionId", col.ServerID)
	if col.GetChanges {
		enc.start("GetChanges")
		enc.end()
	}
	if col.WindowSize > 0 {
		enc.intElement("WindowSize", col.WindowSize)
	}
	if col.BodyPreference.Type > 0 {
		enc.start("Options")
		enc.start("BodyPreference")
		enc.intElement("Type", col.BodyPreference.Type)
		if col.BodyPreference.TruncationSize > 0 {
			enc.intElement("TruncationSize", col.BodyPreference.TruncationSize)
		}
		enc.end() // BodyPreference
		enc.end() // Options
	}

	ue, hasUpsyncEncoder := codec.(UpsyncEncoder)

	if len(outgoing.Entries) > 0 {
		enc.start("Commands")
		for _, entry := range outgoing.Entries {
			enc.start(entry.Op.String())
			switch entry.Op {
			case OpAdd:
				enc.element("ClientId", entry.ClientID)
				if hasUpsyncEncoder {
					enc.upsyncEntry(ue, entry, outgoing)
				} else {
					enc.start("ApplicationData")
					enc.applicationData(codec, entry.Data)
					enc.end()
				}
			case OpChange:
				enc.element("ServerId", entry.ServerID)
				if hasUpsyncEncoder {
					enc.upsyncEntry(ue, entry, outgoing)
				} else {
					enc.start("ApplicationData")
					enc.applicationData(codec, entry.Data)
					enc.end()
				}
			case OpDelete, OpFetch:
				enc.element("ServerId", entry.ServerID)
			}
			enc.end() // op
		}
		enc.end() // Commands
	}

	enc.end() // Collection
	enc.end() // Collections
	enc.end() // Sync
	if enc.err != nil {
		return nil, enc.err
	}

	if err := w.Flush(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// chainEncoder absorbs the first error from a sequence of Encoder
// calls, so a request-building sequence reads as a flat list of steps
// instead of an if-err-return chain at every tag. Once err is set,
// every subsequent call is a no-op.
type chainEncoder struct {
	enc *wbxml.Encoder
	err error
}

func (c *chainEncoder) start(name string) {
	if c.err != nil {
		return
	}
	c.err = c.enc.StartTag(name)
}

func (c *chainEncoder) end() {
	if c.err != nil {
		return
	}
	c.err = c.enc.EndTag()
}

func (c *chainEncoder) element(name, value string) {
	if c.err != nil {
		return
	}
	c.err = c.enc.Element(name, value)
}

func (c *chainEncoder) intElement(name string, n int) {
	if c.err != nil {
		return
	}
	c.err = c.enc.IntElement(name, n)
}

func (c *chainEncoder) applicationData(codec CollectionCodec, data any) {
	if c.err != nil {
		return
	}
	c.err = codec.EncodeApplicationData(c.enc, data)
}

func (c *chainEncoder) upsyncEntry(ue UpsyncEncoder, entry ChangeEntry, outgoing *ChangeBatch) {
	if c.err != nil {
		return
	}
	c.err = ue.EncodeUpsyncEntry(c.enc, entry, outgoing)
}

// decodeResponse reads the <Sync><Collections><Collection> envelope
// from the server and returns the decoded ChangeBatch, the collection's
// new sync key, and its <Status> code.
func (d *Driver) decodeResponse(col Collection, body io.Reader, codec CollectionCodec) (*ChangeBatch, string, int, error) {
	dec, err := wbxml.NewDecoder(body, d.logger)
	if err != nil {
		return nil, "", 0, err
	}

	batch := &ChangeBatch{Collection: col}
	newKey := col.SyncKey
	status := StatusSuccess

	syncTag, err := d.expectStart(dec, "Sync")
	if err != nil {
		return nil, "", 0, err
	}
	for {
		if err := dec.NextTag(syncTag); err != nil {
			return nil, "", 0, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag || wbxml.NameOf(dec.Tag) != "Collections" {
			if err := dec.SkipTag(); err != nil {
				return nil, "", 0, err
			}
			continue
		}
		collectionsTag := dec.Tag
		for {
			if err := dec.NextTag(collectionsTag); err != nil {
				return nil, "", 0, err
			}
			if dec.Event == wbxml.EventEndTag {
				break
			}
			if dec.Event != wbxml.EventStartTag || wbxml.NameOf(dec.Tag) != "Collection" {
				if err := dec.SkipTag(); err != nil {
					return nil, "", 0, err
				}
				continue
			}
			if err := d.decodeCollection(dec, dec.Tag, batch, codec, &newKey, &status); err != nil {
				return nil, "", 0, err
			}
		}
	}

	return batch, newKey, status, nil
}

func (d *Driver) expectStart(dec *wbxml.Decoder, name string) (wbxml.TokenId, error) {
	if err := dec.Next(); err != nil {
		return 0, err
	}
	if dec.Event != wbxml.EventStartTag || wbxml.NameOf(dec.Tag) != name {
		return 0, &ProtocolError{Expected: name, Got: dec.Event.String()}
	}
	return dec.Tag, nil
}

func (d *Driver) decodeCollection(dec *wbxml.Decoder, collectionTag wbxml.TokenId, batch *ChangeBatch, codec CollectionCodec, newKey *string, status *int) error {
	for {
		if err := dec.NextTag(collectionTag); err != nil {
			return err
		}
		if dec.Event == wbxml.EventEndTag {
			return nil
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		name := wbxml.NameOf(dec.Tag)
		switch name {
		case "SyncKey":
			v, err := dec.ReadLeafText()
			if err != nil {
				return err
			}
			*newKey = v
		case "Status":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return err
			}
			*status = n
		case "MoreAvailable":
			batch.MoreAvailable = true
			if err := dec.SkipTag(); err != nil {
				return err
			}
		case "Commands":
			if err := d.decodeCommands(dec, dec.Tag, batch, codec); err != nil {
				return err
			}
		case "Responses":
			if err := d.decodeResponses(dec, dec.Tag, batch); err != nil {
				return err
			}
		default:
			if err := dec.SkipTag(); err != nil {
				return err
			}
		}
	}
}

func (d *Driver) decodeCommands(dec *wbxml.Decoder, commandsTag wbxml.TokenId, batch *ChangeBatch, codec CollectionCodec) error {
	for {
		if err := dec.NextTag(commandsTag); err != nil {
			return err
		}
		if dec.Event == wbxml.EventEndTag {
			return nil
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		opTag := dec.Tag
		op, ok := parseOp(wbxml.NameOf(opTag))
		if !ok {
			d.logger.Debug("sync: skipping unrecognized command", slog.String("tag", wbxml.NameOf(opTag)))
			if err := dec.SkipTag(); err != nil {
				return err
			}
			continue
		}

		entry := ChangeEntry{Op: op}
		for {
			if err := dec.NextTag(opTag); err != nil {
				return err
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
					return err
				}
				entry.ServerID = v
			case "ClientId":
				v, err := dec.ReadLeafText()
				if err != nil {
					return err
				}
				entry.ClientID = v
			case "ApplicationData":
				data, err := codec.DecodeApplicationData(dec)
				if err != nil {
					return fmt.Errorf("decode application data for %s: %w", op, err)
				}
				entry.Data = data
			default:
				if err := dec.SkipTag(); err != nil {
					return err
				}
			}
		}
		// A CollectionCodec signals "decoded, but this record does not
		// satisfy the collection's creation rule" by returning a nil
		// value with a nil error (Contacts' required-display-name rule
		// is the one case in this codebase that uses this). Such an Add
		// is dropped rather than handed to the Store.
		if entry.Op == OpAdd && entry.Data == nil {
			continue
		}
		batch.Entries = append(batch.Entries, entry)
	}
}

// decodeResponses reads a <Responses> subtree: the server's
// acknowledgement of the upsynced Adds/Changes this same exchange
// carried, keyed by ClientId (for Adds, resolving the server-assigned
// ServerId) or ServerId (for Changes). Per spec.md §4.D these feed
// into the same ChangeBatch the Commands section populates — Store's
// ApplyBatch resolves an OpAdd entry carrying both a ClientID and a
// ServerID onto the locally staged row that produced it.
func (d *Driver) decodeResponses(dec *wbxml.Decoder, responsesTag wbxml.TokenId, batch *ChangeBatch) error {
	for {
		if err := dec.NextTag(responsesTag); err != nil {
			return err
		}
		if dec.Event == wbxml.EventEndTag {
			return nil
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		opTag := dec.Tag
		opName := wbxml.NameOf(opTag)
		if opName != "Add" && opName != "Change" {
			if err := dec.SkipTag(); err != nil {
				return err
			}
			continue
		}

		var clientID, serverID string
		status := StatusSuccess
		for {
			if err := dec.NextTag(opTag); err != nil {
				return err
			}
			if dec.Event == wbxml.EventEndTag {
				break
			}
			if dec.Event != wbxml.EventStartTag {
				continue
			}
			switch wbxml.NameOf(dec.Tag) {
			case "ClientId":
				v, err := dec.ReadLeafText()
				if err != nil {
					return err
				}
				clientID = v
			case "ServerId":
				v, err := dec.ReadLeafText()
				if err != nil {
					return err
				}
				serverID = v
			case "Status":
				n, err := dec.ReadLeafInt()
				if err != nil {
					return err
				}
				status = n
			default:
				if err := dec.SkipTag(); err != nil {
					return err
				}
			}
		}

		if status != StatusSuccess {
			d.logger.Warn("sync: server rejected upsynced command",
				slog.String("op", opName), slog.Int("status", status),
				slog.String("clientId", clientID), slog.String("serverId", serverID))
			continue
		}
		if opName == "Add" && clientID != "" && serverID != "" {
			batch.Entries = append(batch.Entries, ChangeEntry{
				Op:       OpAdd,
				ClientID: clientID,
				ServerID: serverID,
			})
		}
		// A Change acknowledgement carries no new data to apply — the
		// upsynced record already reflects local state — so there's
		// nothing further to feed into batch for it beyond the status
		// check above.
	}
}

func parseOp(name string) (ChangeOp, bool) {
	switch name {
	case "Add":
		return OpAdd, true
	case "Change":
		return OpChange, true
	case "Delete":
		return OpDelete, true
	case "Fetch":
		return OpFetch, true
	default:
		return 0, false
	}
}
