package sync

import "github.com/nugget/easync/internal/wbxml"

// Decoder and Encoder alias the wbxml codec types so CollectionCodec
// implementations (internal/email, internal/contacts, internal/calendar)
// only need to import this package, not internal/wbxml directly, for
// their DecodeApplicationData/EncodeApplicationData signatures.
type (
	Decoder = wbxml.Decoder
	Encoder = wbxml.Encoder
)
