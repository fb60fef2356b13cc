package email

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxBodySize bounds how much of a text part this package retains;
// larger bodies are truncated with a note rather than buffered whole.
const maxBodySize = 32 * 1024

// decodeMIMEBody walks a full MIME message (an AirSyncBase Type=4
// body) and returns its text content, preferring text/plain over
// text/html the way a reader would.
//
// Grounded on teacher internal/email/read.go's parseBody: go-message's
// mail.CreateReader and NextPart can return both a valid part and an
// error for an unknown charset or transfer encoding — that's treated
// as non-fatal here too, since a slightly garbled body still beats no
// body at all.
func decodeMIMEBody(raw []byte) (string, error) {
	mailReader, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil && !message.IsUnknownCharset(err) {
		return "", fmt.Errorf("create mail reader: %w", err)
	}
	if mailReader == nil {
		return "", fmt.Errorf("create mail reader returned nil")
	}

	var textBody, htmlBody string
	for {
		part, err := mailReader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		var contentType string
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		default:
			continue // attachments are decoded separately from AirSyncBase Attachments
		}

		switch {
		case contentType == "text/plain" && textBody == "":
			textBody = readLimitedText(part.Body)
		case contentType == "text/html" && htmlBody == "":
			htmlBody = readLimitedText(part.Body)
		}
	}

	if textBody != "" {
		return textBody, nil
	}
	return htmlBody, nil
}

func readLimitedText(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return ""
	}
	text := string(body)
	if len(body) > maxBodySize {
		text = text[:maxBodySize] + "\n\n[truncated]"
	}
	return strings.TrimSpace(text)
}
