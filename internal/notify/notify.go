// Package notify delivers back-office alerts and in-app customer
// notifications. Delivery failures are logged and never fail the caller.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
)

// Notifier is called after a state change has been committed.
type Notifier interface {
	NotifyAdmins(ctx context.Context, message string)
	NotifyUser(ctx context.Context, userID int64, message, link string)
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) NotifyAdmins(context.Context, string)               {}
func (discard) NotifyUser(context.Context, int64, string, string) {}

// Sender pushes a text message to the admin chat.
type Sender interface {
	Send(ctx context.Context, message string) error
}

// Hub writes in-app notifications and forwards admin alerts to an optional
// chat sender.
type Hub struct {
	log    *logger.Logger
	inbox  *Inbox
	sender Sender // nil when no chat is configured
}

func NewHub(log *logger.Logger, inbox *Inbox, sender Sender) *Hub {
	return &Hub{log: log, inbox: inbox, sender: sender}
}

// safeCall runs fn and turns a panic into a log line.
func (h *Hub) safeCall(fn func(), what string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorw("notification panicked", "context", what, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (h *Hub) NotifyAdmins(ctx context.Context, message string) {
	h.safeCall(func() {
		if err := h.inbox.AddForAdmins(ctx, message, ""); err != nil {
			h.log.Errorw("failed to store admin notification", "error", err)
		}
		if h.sender == nil {
			h.log.Infow("admin alert", "message", message)
			return
		}
		if err := h.sender.Send(ctx, message); err != nil {
			h.log.Errorw("failed to send admin alert", "error", err)
		}
	}, "admin")
}

func (h *Hub) NotifyUser(ctx context.Context, userID int64, message, link string) {
	h.safeCall(func() {
		if err := h.inbox.Add(ctx, userID, message, link); err != nil {
			h.log.Errorw("failed to store notification", "user_id", userID, "error", err)
		}
	}, "user")
}

// Inbox is the notifications table.
type Inbox struct {
	db  *sql.DB
	now func() time.Time
}

func NewInbox(db *sql.DB) *Inbox {
	return &Inbox{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func nullLink(link string) interface{} {
	if link == "" {
		return nil
	}
	return link
}

func (i *Inbox) Add(ctx context.Context, userID int64, message, link string) error {
	_, err := i.db.ExecContext(ctx,
		"INSERT INTO notifications (user_id, message, link, is_read, created_at) VALUES (?, ?, ?, FALSE, ?)",
		userID, message, nullLink(link), i.now())
	if err != nil {
		return fmt.Errorf("failed to add notification: %w", err)
	}
	return nil
}

// AddForAdmins stores one notification per admin account.
func (i *Inbox) AddForAdmins(ctx context.Context, message, link string) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, message, link, is_read, created_at)
		SELECT id, ?, ?, FALSE, ? FROM users WHERE role = ?`,
		message, nullLink(link), i.now(), models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to add admin notifications: %w", err)
	}
	return nil
}

// List returns a user's notifications, unread first, newest first.
func (i *Inbox) List(ctx context.Context, userID int64) ([]models.Notification, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT id, user_id, message, link, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY is_read ASC, created_at DESC, id DESC
		LIMIT 50`, userID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	list := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// MarkRead flags one of the user's notifications as read.
func (i *Inbox) MarkRead(ctx context.Context, userID, id int64) error {
	res, err := i.db.ExecContext(ctx, "UPDATE notifications SET is_read = TRUE WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	n, err := database.RowsChanged(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("Notification not found")
	}
	return nil
}
