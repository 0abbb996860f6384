package imessage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// appleEpoch is the reference date of Messages timestamps
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// FetchLimit bounds how many messages a single fetch returns
const FetchLimit = 500

// Message is a row of the Messages database joined with its sender handle
type Message struct {
	RowID    int64
	Date     time.Time
	HandleID string
	Text     string
	IsFromMe bool
}

// ChatDB is a read-only view of the Messages chat.db
type ChatDB struct {
	db   *sql.DB
	path string
}

// OpenChatDB opens chat.db read-only and verifies it is reachable
func OpenChatDB(ctx context.Context, path string, busyTimeout time.Duration) (*ChatDB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat chat database: %w", err)
	}

	q := url.Values{}
	q.Add("mode", "ro")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to chat database: %w", err)
	}
	return &ChatDB{db: db, path: path}, nil
}

// Close closes the database
func (c *ChatDB) Close() error {
	return c.db.Close()
}

// ActiveChats returns chat guids with a message dated after since, most recent first
func (c *ChatDB) ActiveChats(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT c.guid
		FROM chat c
		JOIN chat_message_join cmj ON cmj.chat_id = c.ROWID
		JOIN message m ON m.ROWID = cmj.message_id
		GROUP BY c.guid
		HAVING MAX(m.date) > ?
		ORDER BY MAX(m.date) DESC
	`, toAppleTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query active chats: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ChatHandles returns the participant handles of a chat
func (c *ChatDB) ChatHandles(ctx context.Context, guid string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT h.id
		FROM chat c
		JOIN chat_handle_join chj ON chj.chat_id = c.ROWID
		JOIN handle h ON h.ROWID = chj.handle_id
		WHERE c.guid = ?
		ORDER BY h.id
	`, guid)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat handles: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// HandleLabel returns the handle as originally typed, or "" if unknown
func (c *ChatDB) HandleLabel(ctx context.Context, handleID string) (string, error) {
	var label string
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(NULLIF(uncanonicalized_id, ''), id)
		FROM handle
		WHERE id = ?
		LIMIT 1
	`, handleID).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query handle: %w", err)
	}
	return label, nil
}

// MessagesAfter returns up to FetchLimit messages of a chat with ROWID > after, ascending
func (c *ChatDB) MessagesAfter(ctx context.Context, guid string, after int64) ([]Message, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT m.ROWID, m.date, COALESCE(h.id, ''), COALESCE(m.text, ''), m.is_from_me
		FROM chat c
		JOIN chat_message_join cmj ON cmj.chat_id = c.ROWID
		JOIN message m ON m.ROWID = cmj.message_id
		LEFT JOIN handle h ON h.ROWID = m.handle_id
		WHERE c.guid = ? AND m.ROWID > ?
		ORDER BY m.ROWID ASC
		LIMIT ?
	`, guid, after, FetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m      Message
			date   int64
			fromMe int
		)
		if err := rows.Scan(&m.RowID, &date, &m.HandleID, &m.Text, &fromMe); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Date = fromAppleTime(date)
		m.IsFromMe = fromMe != 0
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MaxRowID returns the highest message ROWID of a chat, 0 if it has none
func (c *ChatDB) MaxRowID(ctx context.Context, guid string) (int64, error) {
	var latest int64
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(cmj.message_id), 0)
		FROM chat c
		JOIN chat_message_join cmj ON cmj.chat_id = c.ROWID
		WHERE c.guid = ?
	`, guid).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest message: %w", err)
	}
	return latest, nil
}

// IsBusy reports whether err is SQLite lock contention
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// toAppleTime converts t to nanoseconds since the Apple epoch
func toAppleTime(t time.Time) int64 {
	return t.Sub(appleEpoch).Nanoseconds()
}

// fromAppleTime converts a Messages date. Databases written before macOS 10.13
// store seconds instead of nanoseconds.
func fromAppleTime(v int64) time.Time {
	if v != 0 && v < 1e11 && v > -1e11 {
		return appleEpoch.Add(time.Duration(v) * time.Second)
	}
	return appleEpoch.Add(time.Duration(v))
}
