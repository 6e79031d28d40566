package db

import (
	"database/sql"
	"errors"
	"time"

	"dsumsg/models"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoRows        = errors.New("no rows found")
	ErrAccountExists = errors.New("account already exists")
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			author TEXT NOT NULL,
			entry TEXT NOT NULL,
			timestamp REAL NOT NULL,
			created TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, id)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return db.migrate()
}

// migrate adds columns introduced after the first schema.
func (db *DB) migrate() error {
	if !db.columnExists("accounts", "bio") {
		if _, err := db.conn.Exec("ALTER TABLE accounts ADD COLUMN bio TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}

	if !db.columnExists("messages", "delivered") {
		if _, err := db.conn.Exec("ALTER TABLE messages ADD COLUMN delivered INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
		if _, err := db.conn.Exec("CREATE INDEX IF NOT EXISTS idx_messages_undelivered ON messages(recipient, delivered, id)"); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// Account methods
func (db *DB) CreateAccount(username, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		"INSERT INTO accounts (username, password) VALUES (?, ?)",
		username, string(hashed),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrAccountExists
	}
	return err
}

func (db *DB) Authenticate(username, password string) (bool, error) {
	var hashedPassword string
	err := db.conn.QueryRow("SELECT password FROM accounts WHERE username = ?", username).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil, nil
}

func (db *DB) AccountExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) GetAccount(username string) (models.Account, error) {
	var a models.Account
	err := db.conn.QueryRow(
		"SELECT id, username, password, bio FROM accounts WHERE username = ?", username,
	).Scan(&a.ID, &a.Username, &a.Password, &a.Bio)
	if err == sql.ErrNoRows {
		return models.Account{}, ErrNoRows
	}
	return a, err
}

func (db *DB) SetBio(username, bio string) error {
	result, err := db.conn.Exec("UPDATE accounts SET bio = ? WHERE username = ?", bio, username)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNoRows
	}
	return nil
}

// Post methods
func (db *DB) SavePost(author, entry string, timestamp float64) error {
	_, err := db.conn.Exec(
		"INSERT INTO posts (author, entry, timestamp, created) VALUES (?, ?, ?, ?)",
		author, entry, timestamp, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (db *DB) GetPosts(author string) ([]models.Post, error) {
	rows, err := db.conn.Query(
		"SELECT id, author, entry, timestamp, created FROM posts WHERE author = ? ORDER BY id ASC", author,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var p models.Post
		var created string
		if err := rows.Scan(&p.ID, &p.Author, &p.Entry, &p.Timestamp, &created); err != nil {
			return nil, err
		}
		p.Created, err = time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}

	return posts, rows.Err()
}

// Message methods
func (db *DB) SaveMessage(sender, recipient, text string, timestamp float64) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (sender, recipient, text, timestamp) VALUES (?, ?, ?, ?)",
		sender, recipient, text, timestamp,
	)
	return err
}

// TakeNewMessages returns the undelivered messages for recipient in arrival
// order and marks them delivered, so each is returned once.
func (db *DB) TakeNewMessages(recipient string) ([]models.StoredMessage, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id, sender, recipient, text, timestamp, delivered
		FROM messages
		WHERE recipient = ? AND delivered = 0
		ORDER BY id ASC`,
		recipient,
	)
	if err != nil {
		return nil, err
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	if len(messages) > 0 {
		last := messages[len(messages)-1].ID
		if _, err := tx.Exec(
			"UPDATE messages SET delivered = 1 WHERE recipient = ? AND delivered = 0 AND id <= ?",
			recipient, last,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Delivered = true
	}
	return messages, nil
}

// GetAllMessages returns every message username sent or received, in
// arrival order.
func (db *DB) GetAllMessages(username string) ([]models.StoredMessage, error) {
	rows, err := db.conn.Query(
		`SELECT id, sender, recipient, text, timestamp, delivered
		FROM messages
		WHERE sender = ? OR recipient = ?
		ORDER BY id ASC`,
		username, username,
	)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.StoredMessage, error) {
	defer rows.Close()

	var messages []models.StoredMessage
	for rows.Next() {
		var m models.StoredMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Text, &m.Timestamp, &m.Delivered); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
