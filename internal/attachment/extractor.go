// Package attachment implements the attachment extraction pipeline:
// download from Graph, skip/deny-list filtering, content-hash dedup, and
// text extraction via an external documents CLI (or direct decode for
// plain text/HTML).
package attachment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jarrod-lowe/inboxd/internal/graph"
	"github.com/jarrod-lowe/inboxd/internal/htmlstrip"
	"github.com/jarrod-lowe/inboxd/internal/message"
	"github.com/jarrod-lowe/inboxd/internal/resilience"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

// extractableTypes are content types the pipeline knows how to turn into text.
var extractableTypes = map[string]bool{
	"application/pdf":               true,
	"application/msword":            true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.ms-excel":      true,
	"application/vnd.ms-powerpoint": true,
	"text/plain":                    true,
	"text/csv":                      true,
	"text/html":                     true,
	"text/markdown":                 true,
	"message/rfc822":                true,
}

// skipFilenamePatterns are stems (case-insensitive) that mark noise
// attachments — signatures, logos, inline banners — not worth extracting.
var skipFilenamePatterns = []string{
	"image001", "image002", "image003", "image004", "image005",
	"signature", "logo", "banner", "footer", "header",
}

const cliTimeout = 60 * time.Second

var whitespaceRE = regexp.MustCompile(`\s+`)

// Extractor runs the pipeline against pending attachments.
type Extractor struct {
	graph   graph.Client
	db      *storage.DB
	log     *slog.Logger
	cliPath string
	workers int
}

// New constructs an Extractor. cliPath is the external document-extraction
// CLI invoked for binary formats; workers bounds pipeline concurrency.
func New(g graph.Client, db *storage.DB, log *slog.Logger, cliPath string, workers int) *Extractor {
	if workers <= 0 {
		workers = 5
	}
	return &Extractor{graph: g, db: db, log: log, cliPath: cliPath, workers: workers}
}

// Stats summarizes a batch extraction run.
type Stats struct {
	Success     int
	Failed      int
	Unsupported int
}

// ProcessPending processes up to limit pending attachments concurrently,
// smallest-first, bounded by the extractor's worker count.
func (x *Extractor) ProcessPending(ctx context.Context, limit int) (Stats, error) {
	pending, err := storage.PendingAttachments(ctx, x.db, limit)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)

	for _, a := range pending {
		a := a
		g.Go(func() error {
			outcome := x.processOne(gctx, a)
			mu.Lock()
			switch outcome {
			case "success":
				stats.Success++
			case "unsupported", "skipped":
				stats.Unsupported++
			default:
				stats.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// processOne runs the full per-attachment flow and returns its terminal
// status string.
func (x *Extractor) processOne(ctx context.Context, a storage.Attachment) string {
	now := time.Now().UTC()
	filename := a.Filename
	if filename == "" {
		filename = "unknown"
	}
	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	for _, pattern := range skipFilenamePatterns {
		if strings.Contains(stem, pattern) {
			_ = storage.UpdateAttachmentStatus(ctx, x.db, a.ID, "skipped", "", fmt.Sprintf("filename matches skip pattern: %s", filename), "", now)
			return "skipped"
		}
	}

	if !extractableTypes[a.ContentType] {
		_ = storage.UpdateAttachmentStatus(ctx, x.db, a.ID, "unsupported", "", fmt.Sprintf("content type not supported: %s", a.ContentType), "", now)
		return "unsupported"
	}

	var rc io.ReadCloser
	err := resilience.Retry(ctx, func() error {
		r, err := x.graph.DownloadAttachment(ctx, a.MessageID, a.ID)
		if err != nil {
			return err
		}
		rc = r
		return nil
	})
	if err != nil {
		_ = storage.UpdateAttachmentStatus(ctx, x.db, a.ID, "failed", "", "download failed: "+err.Error(), "", now)
		return "failed"
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		_ = storage.UpdateAttachmentStatus(ctx, x.db, a.ID, "failed", "", "download failed: "+err.Error(), "", now)
		return "failed"
	}
	_ = storage.MarkAttachmentDownloaded(ctx, x.db, a.ID, time.Now().UTC())

	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])[:32]

	if cached, ok, err := storage.FindExtractedByHash(ctx, x.db, contentHash, a.ID); err == nil && ok {
		_ = storage.UpdateAttachmentStatus(ctx, x.db, a.ID, "success", cached, "", contentHash, now)
		return "success"
	}

	text, err := x.extractText(ctx, content, filename, a.ContentType)
	if err != nil || text == "" {
		errMsg := "text extraction returned empty"
		if err != nil {
			errMsg = err.Error()
		}
		_ = storage.UpdateAttachmentStatus(ctx, x.db, a.ID, "failed", "", errMsg, contentHash, now)
		return "failed"
	}

	_ = storage.UpdateAttachmentStatus(ctx, x.db, a.ID, "success", text, "", contentHash, now)
	return "success"
}

// extractText decodes plain text/HTML directly and shells out to the
// documents CLI for every other extractable binary format.
func (x *Extractor) extractText(ctx context.Context, content []byte, filename, contentType string) (string, error) {
	switch contentType {
	case "text/plain", "text/csv", "text/markdown":
		return string(content), nil
	case "text/html":
		b, err := io.ReadAll(htmlstrip.NewReader(bytes.NewReader(content)))
		if err != nil {
			return "", fmt.Errorf("attachment: strip html: %w", err)
		}
		return strings.TrimSpace(whitespaceRE.ReplaceAllString(string(b), " ")), nil
	case "message/rfc822":
		text, err := message.ExtractText(content)
		if err != nil {
			return "", fmt.Errorf("attachment: extract forwarded message: %w", err)
		}
		return text, nil
	}
	return x.extractWithCLI(ctx, content, filename)
}

func (x *Extractor) extractWithCLI(ctx context.Context, content []byte, filename string) (string, error) {
	suffix := filepath.Ext(filename)
	if suffix == "" {
		suffix = ".bin"
	}

	tmpFile, err := os.CreateTemp("", "attachment-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("attachment: create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("attachment: write temp file: %w", err)
	}
	tmpFile.Close()

	outDir, err := os.MkdirTemp("", "attachment-out-*")
	if err != nil {
		return "", fmt.Errorf("attachment: create temp output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	cctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, x.cliPath, "extract", tmpFile.Name(), "--output-dir", outDir, "--format", "markdown")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("attachment: documents cli failed for %s: %w (%s)", filename, err, stderr.String())
	}

	if text, ok := readFirstMatch(outDir, "*.md"); ok {
		return text, nil
	}
	if text, ok := readFirstMatch(outDir, "*.txt"); ok {
		return text, nil
	}
	return "", fmt.Errorf("attachment: no output file from documents cli for %s", filename)
}

func readFirstMatch(dir, pattern string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	b, err := os.ReadFile(matches[0])
	if err != nil {
		return "", false
	}
	return string(b), true
}
