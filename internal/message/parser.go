// Package message parses the message/rfc822 content carried as a forwarded
// email attachment (an ".eml" Graph hands back for item attachments) into a
// normalized body structure and extracted text, so the forwarded message's
// own content is searchable like any other attachment.
package message

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"time"

	"github.com/jarrod-lowe/inboxd/internal/charset"
	"github.com/jarrod-lowe/inboxd/internal/headers"
	"github.com/jarrod-lowe/inboxd/internal/htmlstrip"
)

// ParsedEmail contains the parsed data from an RFC5322 message.
type ParsedEmail struct {
	Subject       string
	From          []EmailAddress
	Sender        []EmailAddress
	To            []EmailAddress
	CC            []EmailAddress
	Bcc           []EmailAddress
	ReplyTo       []EmailAddress
	SentAt        time.Time
	MessageID     []string
	InReplyTo     []string
	References    []string
	Preview       string
	BodyStructure BodyPart
	TextBody      []string
	HTMLBody      []string
	Attachments   []string
	HasAttachment bool
	Size          int64
}

// ParseRFC5322 parses raw RFC5322 message bytes into a ParsedEmail struct.
func ParseRFC5322(data []byte) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	parsed := &ParsedEmail{
		Size:        int64(len(data)),
		Sender:      []EmailAddress{},
		To:          []EmailAddress{},
		CC:          []EmailAddress{},
		Bcc:         []EmailAddress{},
		ReplyTo:     []EmailAddress{},
		MessageID:   []string{},
		InReplyTo:   []string{},
		References:  []string{},
		TextBody:    []string{},
		HTMLBody:    []string{},
		Attachments: []string{},
	}

	// Parse Subject
	parsed.Subject = headers.ParseText(msg.Header.Get("Subject"))

	// Parse From
	parsed.From = addressList(msg.Header.Get("From"))

	// Parse Sender
	parsed.Sender = addressList(msg.Header.Get("Sender"))

	// Parse To
	parsed.To = addressList(msg.Header.Get("To"))

	// Parse Bcc
	parsed.Bcc = addressList(msg.Header.Get("Bcc"))

	// Parse CC
	parsed.CC = addressList(msg.Header.Get("Cc"))

	// Parse Reply-To
	parsed.ReplyTo = addressList(msg.Header.Get("Reply-To"))

	// Parse Date
	if dateStr := msg.Header.Get("Date"); dateStr != "" {
		if t, err := mail.ParseDate(dateStr); err == nil {
			parsed.SentAt = t.UTC()
		}
	}

	// Parse Message-ID
	if msgID := msg.Header.Get("Message-Id"); msgID != "" {
		parsed.MessageID = headers.ParseMessageIds(msgID)
	}

	// Parse In-Reply-To
	if inReplyTo := msg.Header.Get("In-Reply-To"); inReplyTo != "" {
		parsed.InReplyTo = headers.ParseMessageIds(inReplyTo)
	}

	// Parse References
	if refs := msg.Header.Get("References"); refs != "" {
		parsed.References = headers.ParseMessageIds(refs)
	}

	// Parse body structure
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
		params = nil
	}

	// Read the body
	bodyBytes, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	partCounter := 0
	parsed.BodyStructure, _ = parseBodyPart(mediaType, params, bodyBytes, &partCounter)

	// Collect text/html body parts and attachments
	collectParts(parsed, &parsed.BodyStructure)

	// Generate preview from text body
	parsed.Preview = generatePreview(&parsed.BodyStructure)

	return parsed, nil
}

// ExtractText parses raw RFC 5322 bytes — as retrieved from a
// message/rfc822 attachment — and returns its best-effort plain-text
// content: the first text/plain part if present, charset-decoded per its
// declared charset, otherwise the first text/html part with HTML tags
// stripped.
func ExtractText(data []byte) (string, error) {
	parsed, err := ParseRFC5322(data)
	if err != nil {
		return "", err
	}
	text, _ := extractTextFromPart(&parsed.BodyStructure)
	return strings.TrimSpace(text), nil
}

// addressList parses a comma-separated list of email addresses via
// internal/headers, falling back to a bare address guess when the strict
// parse fails (a sender's malformed header shouldn't sink the whole import).
func addressList(s string) []EmailAddress {
	if s == "" {
		return []EmailAddress{}
	}

	addrs, err := headers.ParseAddresses(s)
	if err != nil {
		s = strings.TrimSpace(s)
		if strings.Contains(s, "@") {
			return []EmailAddress{{Email: s}}
		}
		return []EmailAddress{}
	}

	result := make([]EmailAddress, len(addrs))
	for i, addr := range addrs {
		result[i] = EmailAddress{
			Name:  addr.Name,
			Email: addr.Email,
		}
	}
	return result
}

// parseBodyPart recursively parses a MIME body part.
func parseBodyPart(mediaType string, params map[string]string, body []byte, counter *int) (BodyPart, int) {
	*counter++
	partID := fmt.Sprintf("%d", *counter)

	part := BodyPart{
		PartID:  partID,
		Type:    mediaType,
		Size:    int64(len(body)),
		content: body,
	}

	if cs, ok := params["charset"]; ok {
		part.Charset = cs
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary, ok := params["boundary"]
		if !ok {
			return part, *counter
		}

		mr := multipart.NewReader(bytes.NewReader(body), boundary)
		for {
			p, err := mr.NextPart()
			if err != nil {
				break
			}

			partContentType := p.Header.Get("Content-Type")
			if partContentType == "" {
				partContentType = "text/plain"
			}

			partMediaType, partParams, err := mime.ParseMediaType(partContentType)
			if err != nil {
				partMediaType = "text/plain"
				partParams = nil
			}

			partBody, err := io.ReadAll(p)
			if err != nil {
				continue
			}

			subPart, _ := parseBodyPart(partMediaType, partParams, partBody, counter)

			// Check for disposition
			disposition := p.Header.Get("Content-Disposition")
			if disposition != "" {
				dispType, dispParams, _ := mime.ParseMediaType(disposition)
				subPart.Disposition = dispType
				if filename, ok := dispParams["filename"]; ok {
					subPart.Name = filename
				}
			}

			// Also check Content-Type name parameter
			if subPart.Name == "" {
				if name, ok := partParams["name"]; ok {
					subPart.Name = name
				}
			}

			part.SubParts = append(part.SubParts, subPart)
		}
	}

	return part, *counter
}

// collectParts walks the body structure and collects part references.
func collectParts(parsed *ParsedEmail, part *BodyPart) {
	if strings.HasPrefix(part.Type, "multipart/") {
		for i := range part.SubParts {
			collectParts(parsed, &part.SubParts[i])
		}
		return
	}

	// Check if it's an attachment
	if part.Disposition == "attachment" {
		parsed.Attachments = append(parsed.Attachments, part.PartID)
		parsed.HasAttachment = true
		return
	}

	// Collect text and HTML body parts
	if part.Type == "text/plain" {
		parsed.TextBody = append(parsed.TextBody, part.PartID)
	} else if part.Type == "text/html" {
		parsed.HTMLBody = append(parsed.HTMLBody, part.PartID)
	}
}

// previewMaxBytes bounds how much of the extracted text generatePreview keeps.
const previewMaxBytes = 256

// generatePreview creates a preview string from the email body, reusing
// PreviewCapture's whitespace-collapsing and word-boundary truncation rather
// than duplicating that logic inline.
func generatePreview(rootPart *BodyPart) string {
	text, _ := extractTextFromPart(rootPart)

	pc := NewPreviewCapture(previewMaxBytes)
	_, _ = pc.Write([]byte(text))
	return pc.Preview()
}

// extractTextFromPart walks a body part tree and returns the best available
// text: the first non-attachment text/plain leaf if one exists anywhere in
// the tree, otherwise the first text/html leaf with tags stripped. isPlain
// tells the caller which of the two was found, so ExtractText can prefer a
// plain part discovered deeper in the tree over an html part found earlier.
func extractTextFromPart(part *BodyPart) (text string, isPlain bool) {
	if part.Type == "text/plain" && part.Disposition != "attachment" {
		if t, err := decodePartText(part, false); err == nil && strings.TrimSpace(t) != "" {
			return t, true
		}
	}
	if part.Type == "text/html" && part.Disposition != "attachment" {
		if t, err := decodePartText(part, true); err == nil && strings.TrimSpace(t) != "" {
			return t, false
		}
	}

	var htmlFallback string
	for i := range part.SubParts {
		t, plain := extractTextFromPart(&part.SubParts[i])
		if plain && t != "" {
			return t, true
		}
		if t != "" && htmlFallback == "" {
			htmlFallback = t
		}
	}
	return htmlFallback, false
}

// decodePartText transcodes a leaf body part's raw bytes per its declared
// charset and, for HTML parts, strips tags down to plain text.
func decodePartText(part *BodyPart, isHTML bool) (string, error) {
	dr, err := charset.DecodeReader(bytes.NewReader(part.content), part.Charset)
	if err != nil {
		return "", err
	}
	if isHTML {
		stripped, err := io.ReadAll(htmlstrip.NewReader(dr))
		if err != nil {
			return "", err
		}
		return string(stripped), nil
	}
	decoded, err := io.ReadAll(dr)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
