// Package graph declares the abstract collaborator contract for Microsoft
// Graph mailbox access. No concrete SDK is imported here — callers supply
// a Client implementation (a thin wrapper over msgraph-sdk-go or raw REST)
// appropriate to their deployment.
package graph

import (
	"context"
	"io"
	"time"
)

// Address is a Graph emailAddress value.
type Address struct {
	Name  string
	Email string
}

// Folder is a Graph mailFolder.
type Folder struct {
	ID             string
	DisplayName    string
	ParentFolderID string
}

// Message is a normalized Graph message resource.
type Message struct {
	ID                string
	ConversationID    string
	InternetMessageID string
	Subject           string
	From              Address
	To                []Address
	CC                []Address
	ReceivedDateTime  string
	BodyPreview       string
	BodyContentType   string // text|html
	Body              string
	HasAttachments    bool
	IsRead            bool
	ParentFolderID    string
	Etag              string
	WebLink           string
	// Removed is set on delta pages when Graph reports this item was
	// deleted (the `@removed` marker), per the replicator's resolved
	// removed-marker semantics.
	Removed bool
}

// AttachmentMeta is a Graph attachment's metadata (without content).
type AttachmentMeta struct {
	ID          string
	Name        string
	ContentType string
	Size        int64
}

// Page is one page of a folder listing or delta query.
type Page struct {
	Messages     []Message
	NextLink     string
	DeltaLink    string
}

// Client is the abstract Microsoft Graph mailbox collaborator.
type Client interface {
	// ListFolders returns every mail folder for the delegated mailbox.
	ListFolders(ctx context.Context) ([]Folder, error)

	// FullSync lists all messages in a folder from scratch (first page;
	// callers follow NextLink until DeltaLink appears), optionally
	// including full body content.
	FullSync(ctx context.Context, folderID string, fetchBody bool, pageToken string) (Page, error)

	// DeltaSync follows a previously-saved delta link. A Graph-side
	// ErrDeltaExpired (HTTP 410) signals the caller must fall back to
	// FullSync and replace the stored delta link.
	DeltaSync(ctx context.Context, folderID, deltaLink string, fetchBody bool) (Page, error)

	// ListAttachments returns attachment metadata for a message.
	ListAttachments(ctx context.Context, messageID string) ([]AttachmentMeta, error)

	// DownloadAttachment streams an attachment's raw content.
	DownloadAttachment(ctx context.Context, messageID, attachmentID string) (io.ReadCloser, error)

	// UpdateMessage patches categories and/or the flag/flag-due-date on a
	// message — the triage engine's categories-mode action.
	UpdateMessage(ctx context.Context, messageID string, update MessageUpdate) error

	// Move relocates a message into the named destination folder — the
	// triage engine's legacy folder-mode action.
	Move(ctx context.Context, messageID, folderName string) error

	// Delete removes a message outright (triage's "delete" action).
	Delete(ctx context.Context, messageID string) error
}

// MessageUpdate is a partial patch applied via UpdateMessage. Nil fields
// are left unchanged.
type MessageUpdate struct {
	Categories []string
	FlagDue    *time.Time
}

// ErrDeltaExpired is returned by DeltaSync when Graph responds 410 Gone,
// indicating the delta token has expired and a full resync is required.
type ErrDeltaExpired struct {
	FolderID string
}

func (e *ErrDeltaExpired) Error() string {
	return "graph: delta token expired for folder " + e.FolderID
}
