// Package sqlstore implements storage.Store over database/sql. The same
// queries serve SQLite (modernc.org/sqlite) and Postgres (pgx stdlib); the
// schema is managed by goose from embedded migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/model"
	"github.com/smorand/easy-deck/internal/storage"
	"github.com/smorand/easy-deck/internal/storage/sqlstore/migrations"
)

// Dialect selects the SQL driver.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Store is a SQL-backed storage.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Config holds the connection settings.
type Config struct {
	Dialect Dialect
	// DSN is a file path for SQLite and a connection string for Postgres.
	DSN    string
	Logger *slog.Logger
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Dialect {
	case SQLite:
		db, err = openSQLite(cfg.DSN)
	case Postgres:
		db, err = sql.Open("pgx", cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown sql dialect %q", errs.ErrInvalidArgument, cfg.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{db: db, dialect: cfg.Dialect, logger: cfg.Logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Info("sql store ready", slog.String("dialect", string(cfg.Dialect)))
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate applies the embedded migrations. Each call builds its own goose
// provider, so stores of different dialects can migrate concurrently.
func (s *Store) Migrate(ctx context.Context) error {
	dialect := goose.DialectPostgres
	if s.dialect == SQLite {
		dialect = goose.DialectSQLite3
	}
	provider, err := goose.NewProvider(dialect, s.db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	for _, r := range results {
		s.logger.Debug("migration applied", slog.String("source", r.Source.Path))
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return res, nil
}

func notFoundIfNone(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", errs.ErrNotFound, kind, id)
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return model.String(ns.String)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const deckColumns = `id, owner_id, name, description, presentation_id, updated_at`

func scanDeck(row rowScanner) (*model.Deck, error) {
	var (
		d            model.Deck
		desc, presID sql.NullString
		updated      int64
	)
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Name, &desc, &presID, &updated); err != nil {
		return nil, err
	}
	d.Description = ptr(desc)
	d.PresentationID = ptr(presID)
	d.UpdatedAt = fromMillis(updated)
	return &d, nil
}

// CreateDeck inserts deck, assigning an ID when empty.
func (s *Store) CreateDeck(ctx context.Context, deck *model.Deck) error {
	if deck.ID == "" {
		deck.ID = storage.NewID()
	}
	_, err := s.exec(ctx,
		`INSERT INTO decks (`+deckColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		deck.ID, deck.OwnerID, deck.Name, nullable(deck.Description), nullable(deck.PresentationID), millis(deck.UpdatedAt))
	return err
}

// GetDeck loads one deck.
func (s *Store) GetDeck(ctx context.Context, id string) (*model.Deck, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+deckColumns+` FROM decks WHERE id = ?`), id)
	deck, err := scanDeck(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: deck %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return deck, nil
}

// ListDecksByOwner returns the owner's decks, most recently updated first.
func (s *Store) ListDecksByOwner(ctx context.Context, ownerID string) ([]*model.Deck, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+deckColumns+` FROM decks WHERE owner_id = ? ORDER BY updated_at DESC, id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	decks := []*model.Deck{}
	for rows.Next() {
		deck, err := scanDeck(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		decks = append(decks, deck)
	}
	return decks, rows.Err()
}

// UpdateDeck overwrites the mutable deck columns.
func (s *Store) UpdateDeck(ctx context.Context, deck *model.Deck) error {
	res, err := s.exec(ctx,
		`UPDATE decks SET name = ?, description = ?, presentation_id = ?, updated_at = ? WHERE id = ?`,
		deck.Name, nullable(deck.Description), nullable(deck.PresentationID), millis(deck.UpdatedAt), deck.ID)
	if err != nil {
		return err
	}
	return notFoundIfNone(res, "deck", deck.ID)
}

// DeleteDeck removes the deck row only.
func (s *Store) DeleteDeck(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM decks WHERE id = ?`, id)
	return err
}

const slideColumns = `id, deck_id, slide_index, google_slide_id, title, content, updated_at`

func scanSlide(row rowScanner) (*model.Slide, error) {
	var (
		sl                    model.Slide
		extID, title, content sql.NullString
		updated               int64
	)
	if err := row.Scan(&sl.ID, &sl.DeckID, &sl.Index, &extID, &title, &content, &updated); err != nil {
		return nil, err
	}
	sl.ExternalID = ptr(extID)
	sl.Title = ptr(title)
	sl.Content = ptr(content)
	sl.UpdatedAt = fromMillis(updated)
	return &sl, nil
}

// CreateSlide inserts slide, assigning an ID when empty.
func (s *Store) CreateSlide(ctx context.Context, slide *model.Slide) error {
	if slide.ID == "" {
		slide.ID = storage.NewID()
	}
	_, err := s.exec(ctx,
		`INSERT INTO slides (`+slideColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		slide.ID, slide.DeckID, slide.Index, nullable(slide.ExternalID), nullable(slide.Title), nullable(slide.Content), millis(slide.UpdatedAt))
	return err
}

// GetSlide loads one slide.
func (s *Store) GetSlide(ctx context.Context, id string) (*model.Slide, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+slideColumns+` FROM slides WHERE id = ?`), id)
	slide, err := scanSlide(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: slide %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return slide, nil
}

// ListSlidesByDeck returns the deck's slides ordered by index.
func (s *Store) ListSlidesByDeck(ctx context.Context, deckID string) ([]*model.Slide, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+slideColumns+` FROM slides WHERE deck_id = ? ORDER BY slide_index, id`), deckID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	slides := []*model.Slide{}
	for rows.Next() {
		slide, err := scanSlide(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		slides = append(slides, slide)
	}
	return slides, rows.Err()
}

// UpdateSlide overwrites the mutable slide columns.
func (s *Store) UpdateSlide(ctx context.Context, slide *model.Slide) error {
	res, err := s.exec(ctx,
		`UPDATE slides SET slide_index = ?, google_slide_id = ?, title = ?, content = ?, updated_at = ? WHERE id = ?`,
		slide.Index, nullable(slide.ExternalID), nullable(slide.Title), nullable(slide.Content), millis(slide.UpdatedAt), slide.ID)
	if err != nil {
		return err
	}
	return notFoundIfNone(res, "slide", slide.ID)
}

// DeleteSlide removes one slide.
func (s *Store) DeleteSlide(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM slides WHERE id = ?`, id)
	return err
}

// UpsertCredential inserts or replaces the owner's credential. The row keeps
// its original id across overwrites.
func (s *Store) UpsertCredential(ctx context.Context, cred *model.Credential) (string, error) {
	if cred.ID == "" {
		cred.ID = storage.NewID()
	}
	query := s.rebind(`INSERT INTO credentials (id, owner_id, access_token, refresh_token, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at
		RETURNING id`)

	var id string
	err := s.db.QueryRowContext(ctx, query,
		cred.ID, cred.OwnerID, cred.AccessToken, nullable(cred.RefreshToken), cred.ExpiresAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	cred.ID = id
	return id, nil
}

// GetCredential loads the owner's credential.
func (s *Store) GetCredential(ctx context.Context, ownerID string) (*model.Credential, error) {
	var (
		cred    model.Credential
		refresh sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, owner_id, access_token, refresh_token, expires_at FROM credentials WHERE owner_id = ?`), ownerID).
		Scan(&cred.ID, &cred.OwnerID, &cred.AccessToken, &refresh, &cred.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: credential for %s", errs.ErrNotFound, ownerID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	cred.RefreshToken = ptr(refresh)
	return &cred, nil
}

// AppendMessage inserts one transcript entry.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ID == "" {
		msg.ID = storage.NewMessageID(msg.CreatedAt)
	}
	_, err := s.exec(ctx,
		`INSERT INTO messages (id, owner_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.OwnerID, string(msg.Role), msg.Content, millis(msg.CreatedAt))
	return err
}

// ListMessages returns up to limit of the owner's messages, newest first.
func (s *Store) ListMessages(ctx context.Context, ownerID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = storage.DefaultMessageLimit
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, owner_id, role, content, created_at FROM messages WHERE owner_id = ? ORDER BY id DESC LIMIT ?`),
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	messages := []*model.Message{}
	for rows.Next() {
		var (
			msg     model.Message
			role    string
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.OwnerID, &role, &msg.Content, &created); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = fromMillis(created)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// ClearMessages deletes the owner's transcript.
func (s *Store) ClearMessages(ctx context.Context, ownerID string) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM messages WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}

var _ storage.Store = (*Store)(nil)
