// Package chunker splits message bodies and attachment text into the
// searchable/embeddable units stored in the chunks table: quoted-reply
// stripping for direct replies, virtual-email splitting for forwarded
// chains, and paragraph-boundary segmentation for long attachment text.
package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/inboxd/internal/htmlstrip"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

const (
	attachmentChunkThreshold = 2000
	attachmentChunkTarget    = 1500 // bytes, within the 1-2KB band
	attachmentChunkOverlap   = 150
)

var (
	replyMarkerRE  = regexp.MustCompile(`(?mi)^On .+ wrote:\s*$`)
	blockquoteRE   = regexp.MustCompile(`(?m)^\s*>.*$`)
	forwardHeadRE  = regexp.MustCompile(`(?mi)^-+\s*Forwarded message\s*-+\s*$`)
	headerBlockRE  = regexp.MustCompile(`(?mi)^From:\s*(.+)\n(?:.*\n)*?Date:\s*(.+)\n(?:.*\n)*?Subject:\s*(.+)\s*$`)
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
)

// Chunker builds chunk rows for messages and attachments.
type Chunker struct {
	db *storage.DB
}

// New constructs a Chunker.
func New(db *storage.DB) *Chunker {
	return &Chunker{db: db}
}

// ChunkMessage produces chunks for one message, operating on the
// working-memory updater's cleaned markdown body when available (quoted
// replies/signature/disclaimers already stripped), falling back through
// body_text/body_html/body_preview for messages the updater hasn't reached
// yet: a forward chain becomes a series of virtual_email chunks (one per
// embedded From/Date/Subject block); anything else becomes a single email
// chunk with quoted replies stripped.
func (c *Chunker) ChunkMessage(ctx context.Context, msg storage.Message) error {
	body := msg.BodyMarkdown
	if body == "" {
		body = msg.BodyText
	}
	if body == "" {
		body = stripHTMLIfNeeded(msg.BodyHTML)
	}
	if body == "" {
		body = msg.BodyPreview
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}

	if blocks := forwardHeadRE.FindAllStringIndex(body, -1); len(blocks) > 0 {
		return c.chunkForwardChain(ctx, msg.ID, body)
	}

	content := stripQuoted(body)
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return storage.UpsertChunk(ctx, c.db, storage.Chunk{
		ID:              uuid.NewString(),
		SourceType:      "email",
		SourceID:        msg.ID,
		ChunkIndex:      0,
		Content:         content,
		CharOffsetStart: 0,
		CharOffsetEnd:   len(content),
	})
}

// stripQuoted removes reply-marker lines, the quoted lines that follow a
// "On ... wrote:" marker, and blockquote-prefixed lines — the recipient
// already has that content in the message they're replying to.
func stripQuoted(body string) string {
	if loc := replyMarkerRE.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if blockquoteRE.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// forwardSegment is one virtual email split out of a forwarded chain.
type forwardSegment struct {
	Sender  string
	Subject string
	Date    string
	Body    string
}

func (c *Chunker) chunkForwardChain(ctx context.Context, messageID, body string) error {
	segments := splitForwardChain(body)
	for i, seg := range segments {
		if strings.TrimSpace(seg.Body) == "" {
			continue
		}
		meta, err := json.Marshal(map[string]any{
			"extracted_sender":  seg.Sender,
			"extracted_subject": seg.Subject,
			"extracted_date":    seg.Date,
			"source_email_id":   messageID,
			"position_in_chain": i,
		})
		if err != nil {
			return fmt.Errorf("chunker: marshal forward metadata: %w", err)
		}
		if err := storage.UpsertChunk(ctx, c.db, storage.Chunk{
			ID:              uuid.NewString(),
			SourceType:      "virtual_email",
			SourceID:        messageID,
			ChunkIndex:      i,
			Content:         seg.Body,
			CharOffsetStart: 0,
			CharOffsetEnd:   len(seg.Body),
			MetadataJSON:    string(meta),
		}); err != nil {
			return err
		}
	}
	return nil
}

// splitForwardChain extracts embedded From:/Date:/Subject: header blocks,
// producing one segment per detected forwarded hop plus a leading segment
// for any new top-of-chain content.
func splitForwardChain(body string) []forwardSegment {
	matches := headerBlockRE.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return []forwardSegment{{Body: strings.TrimSpace(body)}}
	}

	var segments []forwardSegment
	if lead := strings.TrimSpace(body[:matches[0][0]]); lead != "" {
		segments = append(segments, forwardSegment{Body: lead})
	}

	for i, m := range matches {
		headerEnd := m[1]
		bodyEnd := len(body)
		if i+1 < len(matches) {
			bodyEnd = matches[i+1][0]
		}
		segBody := strings.TrimSpace(body[headerEnd:bodyEnd])

		sub := body[m[0]:m[1]]
		segments = append(segments, forwardSegment{
			Sender:  strings.TrimSpace(captureGroup(sub, 1, m, body)),
			Date:    strings.TrimSpace(captureGroup(sub, 2, m, body)),
			Subject: strings.TrimSpace(captureGroup(sub, 3, m, body)),
			Body:    segBody,
		})
	}
	return segments
}

func captureGroup(_ string, idx int, m []int, body string) string {
	start, end := m[2*idx], m[2*idx+1]
	if start < 0 || end < 0 {
		return ""
	}
	return body[start:end]
}

// ChunkAttachment produces paragraph-boundary chunks for extracted
// attachment text once it exceeds the minimum threshold; short text
// becomes a single chunk.
func (c *Chunker) ChunkAttachment(ctx context.Context, attachmentID, extractedText string) error {
	text := strings.TrimSpace(extractedText)
	if text == "" {
		return nil
	}

	var parts []string
	if len(text) > attachmentChunkThreshold {
		parts = segmentByParagraph(text, attachmentChunkTarget, attachmentChunkOverlap)
	} else {
		parts = []string{text}
	}

	offset := 0
	for i, part := range parts {
		if err := storage.UpsertChunk(ctx, c.db, storage.Chunk{
			ID:              uuid.NewString(),
			SourceType:      "attachment",
			SourceID:        attachmentID,
			ChunkIndex:      i,
			Content:         part,
			CharOffsetStart: offset,
			CharOffsetEnd:   offset + len(part),
		}); err != nil {
			return err
		}
		offset += len(part)
	}
	return nil
}

// segmentByParagraph groups paragraphs into chunks of roughly `target`
// bytes, repeating the tail of each chunk as the head of the next so
// embeddings retain some cross-chunk context.
func segmentByParagraph(text string, target, overlap int) []string {
	paragraphs := paragraphSplit.Split(text, -1)

	var chunks []string
	var cur strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p) > target {
			chunks = append(chunks, cur.String())
			tail := lastBytes(cur.String(), overlap)
			cur.Reset()
			cur.WriteString(tail)
			if tail != "" {
				cur.WriteString("\n\n")
			}
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

func lastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// stripHTMLIfNeeded falls back to HTML-to-text conversion for messages
// stored only as HTML (no plain-text part).
func stripHTMLIfNeeded(htmlBody string) string {
	if htmlBody == "" {
		return ""
	}
	b, err := io.ReadAll(htmlstrip.NewReader(strings.NewReader(htmlBody)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
