// Package replicator mirrors a Microsoft Graph mailbox into the local
// storage layer: full sync, delta sync, and the folder-level orchestration
// that picks between them.
package replicator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jarrod-lowe/inboxd/internal/graph"
	"github.com/jarrod-lowe/inboxd/internal/resilience"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

var tracer = otel.Tracer("replicator")

// systemFolderDenylist holds folder display names the replicator never
// syncs — outbox/trash/junk/drafts churn that isn't useful working memory.
var systemFolderDenylist = map[string]bool{
	"Deleted Items": true,
	"Drafts":        true,
	"Outbox":        true,
	"Junk Email":    true,
}

// Replicator drives Graph sync against the storage layer.
type Replicator struct {
	graph graph.Client
	db    *storage.DB
	log   *slog.Logger
}

// New constructs a Replicator.
func New(g graph.Client, db *storage.DB, log *slog.Logger) *Replicator {
	return &Replicator{graph: g, db: db, log: log}
}

// SyncOptions configures a mailbox-wide sync pass.
type SyncOptions struct {
	FetchBody bool
	// Since, when non-zero, skips messages received before it during a
	// folder's first full sync. Delta syncs are already incremental and
	// ignore it.
	Since time.Time
}

// SyncSummary totals a SyncAllFolders pass.
type SyncSummary struct {
	FoldersSynced   int
	MessagesUpdated int
	MessagesDeleted int
}

// SyncAllFolders lists the mailbox's folders, skips the system-folder
// denylist, and dispatches each remaining folder to delta sync (if it has
// a saved cursor) or full sync (first time).
func (r *Replicator) SyncAllFolders(ctx context.Context, opts SyncOptions) (SyncSummary, error) {
	ctx, span := tracer.Start(ctx, "replicator.sync_all_folders")
	defer span.End()

	folders, err := r.graph.ListFolders(ctx)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("replicator: list folders: %w", err)
	}

	var summary SyncSummary
	for _, f := range folders {
		if systemFolderDenylist[f.DisplayName] {
			continue
		}
		if err := storage.UpsertFolder(ctx, r.db, storage.Folder{
			ID: f.ID, DisplayName: f.DisplayName, ParentFolderID: f.ParentFolderID,
		}); err != nil {
			return summary, err
		}

		state, err := storage.GetSyncState(ctx, r.db, f.ID)
		if err != nil {
			return summary, err
		}

		if state != nil && state.DeltaLink != "" {
			updated, deleted, err := r.DeltaSyncFolder(ctx, f.ID, opts.FetchBody)
			if err != nil {
				return summary, fmt.Errorf("replicator: delta sync folder %s: %w", f.ID, err)
			}
			summary.MessagesUpdated += updated
			summary.MessagesDeleted += deleted
		} else {
			n, err := r.fullSyncFolder(ctx, f.ID, opts.FetchBody, opts.Since)
			if err != nil {
				return summary, fmt.Errorf("replicator: full sync folder %s: %w", f.ID, err)
			}
			summary.MessagesUpdated += n
		}
		summary.FoldersSynced++
	}
	return summary, nil
}

// FullSyncFolder paginates a folder from scratch via NextLink until Graph
// hands back a DeltaLink, upserting every message along the way, then
// persists the delta link as the folder's new sync cursor.
func (r *Replicator) FullSyncFolder(ctx context.Context, folderID string, fetchBody bool) (int, error) {
	return r.fullSyncFolder(ctx, folderID, fetchBody, time.Time{})
}

func (r *Replicator) fullSyncFolder(ctx context.Context, folderID string, fetchBody bool, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "replicator.full_sync_folder")
	defer span.End()

	token := ""
	total := 0
	for {
		var page graph.Page
		err := resilience.Retry(ctx, func() error {
			var err error
			page, err = r.graph.FullSync(ctx, folderID, fetchBody, token)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("replicator: full sync page: %w", err)
		}

		n, err := r.upsertPage(ctx, page.Messages, since)
		if err != nil {
			return total, err
		}
		total += n

		if page.DeltaLink != "" {
			if err := storage.SaveSyncState(ctx, r.db, folderID, page.DeltaLink, "full", total, time.Now().UTC()); err != nil {
				return total, err
			}
			return total, nil
		}
		if page.NextLink == "" {
			// Graph should always eventually hand back a delta link; if it
			// doesn't, stop rather than loop forever.
			return total, nil
		}
		token = page.NextLink
	}
}

// DeltaSyncFolder follows the folder's saved delta link. On a 410
// (delta token expired) it falls back to a full sync and replaces the
// cursor, without double-counting messages already synced.
func (r *Replicator) DeltaSyncFolder(ctx context.Context, folderID string, fetchBody bool) (updated, deleted int, err error) {
	ctx, span := tracer.Start(ctx, "replicator.delta_sync_folder")
	defer span.End()

	state, err := storage.GetSyncState(ctx, r.db, folderID)
	if err != nil {
		return 0, 0, err
	}
	if state == nil || state.DeltaLink == "" {
		n, err := r.FullSyncFolder(ctx, folderID, fetchBody)
		return n, 0, err
	}

	link := state.DeltaLink
	for {
		var page graph.Page
		err := resilience.Retry(ctx, func() error {
			p, err := r.graph.DeltaSync(ctx, folderID, link, fetchBody)
			if err != nil {
				if isDeltaExpired(err) {
					return resilience.Permanent(err)
				}
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			if isDeltaExpired(err) {
				r.log.WarnContext(ctx, "delta token expired, falling back to full sync", "folder_id", folderID)
				n, ferr := r.FullSyncFolder(ctx, folderID, fetchBody)
				return n, 0, ferr
			}
			return updated, deleted, fmt.Errorf("replicator: delta sync page: %w", err)
		}

		for _, m := range page.Messages {
			if m.Removed {
				if err := storage.DeleteMessage(ctx, r.db, m.ID); err != nil {
					return updated, deleted, err
				}
				deleted++
				continue
			}
			if err := r.upsertMessage(ctx, m); err != nil {
				return updated, deleted, err
			}
			updated++
		}

		if page.DeltaLink != "" {
			if err := storage.SaveSyncState(ctx, r.db, folderID, page.DeltaLink, "delta", updated, time.Now().UTC()); err != nil {
				return updated, deleted, err
			}
			return updated, deleted, nil
		}
		if page.NextLink == "" {
			return updated, deleted, nil
		}
		link = page.NextLink
	}
}

func isDeltaExpired(err error) bool {
	var expired *graph.ErrDeltaExpired
	return errors.As(err, &expired)
}

func (r *Replicator) upsertPage(ctx context.Context, msgs []graph.Message, since time.Time) (int, error) {
	n := 0
	for _, m := range msgs {
		if !since.IsZero() {
			if received, err := time.Parse(time.RFC3339, m.ReceivedDateTime); err == nil && received.Before(since) {
				continue
			}
		}
		if err := r.upsertMessage(ctx, m); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Replicator) upsertMessage(ctx context.Context, m graph.Message) error {
	receivedAt, _ := time.Parse(time.RFC3339, m.ReceivedDateTime)

	msg := storage.Message{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		InternetMessageID: m.InternetMessageID,
		Subject:           m.Subject,
		Sender:            formatAddress(m.From),
		ToEmails:          formatAddresses(m.To),
		CCEmails:          formatAddresses(m.CC),
		ReceivedAt:        receivedAt,
		BodyPreview:       m.BodyPreview,
		HasAttachments:    m.HasAttachments,
		IsRead:            m.IsRead,
		FolderID:          m.ParentFolderID,
		Etag:              m.Etag,
		WebLinkURL:        m.WebLink,
	}
	if m.BodyContentType == "html" {
		msg.BodyHTML = m.Body
	} else {
		msg.BodyText = m.Body
	}
	msg.BodyHash = bodyHash(m.Body)

	if err := storage.UpsertMessage(ctx, r.db, msg); err != nil {
		return err
	}

	if m.HasAttachments {
		attachments, err := r.graph.ListAttachments(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("replicator: list attachments %s: %w", m.ID, err)
		}
		for _, a := range attachments {
			if err := storage.InsertAttachment(ctx, r.db, storage.Attachment{
				ID:          a.ID,
				MessageID:   m.ID,
				Filename:    a.Name,
				ContentType: a.ContentType,
				SizeBytes:   a.Size,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// bodyHash fingerprints a message body so the working-memory updater and
// chunker can detect a body that hasn't actually changed across sync
// passes, mirroring the original poller's truncated sha256 digest.
func bodyHash(body string) string {
	if body == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])[:16]
}

func formatAddress(a graph.Address) string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

func formatAddresses(addrs []graph.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, formatAddress(a))
	}
	return out
}
