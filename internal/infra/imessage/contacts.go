package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode"
)

// phoneKeyDigits is how many trailing digits identify a phone number across formats
const phoneKeyDigits = 10

// Contacts resolves handles to names using an AddressBook database
type Contacts struct {
	db *sql.DB

	mu    sync.RWMutex
	names map[string]string
}

// OpenContacts opens an AddressBook-v22.abcddb file read-only
func OpenContacts(ctx context.Context, path string) (*Contacts, error) {
	q := url.Values{}
	q.Add("mode", "ro")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open contacts database: %w", err)
	}
	c := &Contacts{db: db, names: make(map[string]string)}
	if err := c.Reload(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database
func (c *Contacts) Close() error {
	return c.db.Close()
}

// Reload rebuilds the handle index from the database
func (c *Contacts) Reload(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT p.ZFULLNUMBER AS handle, r.ZFIRSTNAME, r.ZLASTNAME, r.ZNICKNAME, r.ZORGANIZATION
		FROM ZABCDPHONENUMBER p JOIN ZABCDRECORD r ON r.Z_PK = p.ZOWNER
		UNION ALL
		SELECT e.ZADDRESS AS handle, r.ZFIRSTNAME, r.ZLASTNAME, r.ZNICKNAME, r.ZORGANIZATION
		FROM ZABCDEMAILADDRESS e JOIN ZABCDRECORD r ON r.Z_PK = e.ZOWNER
	`)
	if err != nil {
		return fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var handle, first, last, nick, org sql.NullString
		if err := rows.Scan(&handle, &first, &last, &nick, &org); err != nil {
			return fmt.Errorf("failed to scan contact: %w", err)
		}
		key := handleKey(handle.String)
		name := contactName(first.String, last.String, nick.String, org.String)
		if key == "" || name == "" {
			continue
		}
		if _, exists := names[key]; !exists {
			names[key] = name
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read contacts: %w", err)
	}

	c.mu.Lock()
	c.names = names
	c.mu.Unlock()
	return nil
}

// Lookup returns the contact name for a handle
func (c *Contacts) Lookup(handle string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[handleKey(handle)]
	return name, ok
}

func contactName(first, last, nick, org string) string {
	full := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	switch {
	case full != "":
		return full
	case strings.TrimSpace(nick) != "":
		return strings.TrimSpace(nick)
	default:
		return strings.TrimSpace(org)
	}
}

// handleKey normalizes an email or phone number for matching
func handleKey(handle string) string {
	handle = strings.TrimSpace(handle)
	if strings.Contains(handle, "@") {
		return strings.ToLower(handle)
	}
	var digits []rune
	for _, r := range handle {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) > phoneKeyDigits {
		digits = digits[len(digits)-phoneKeyDigits:]
	}
	return string(digits)
}
