// Package state persists the per-flow session correlation: the chat id the
// server assigned and the captured lead, keyed by an opaque flow key.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/set-night/flowchat/internal/domain"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the local state database and applies the
// embedded migrations.
func Open(ctx context.Context, path string, migrationsFS fs.FS) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}
	if err := runMigrations(path, migrationsFS); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func runMigrations(path string, migrationsFS fs.FS) error {
	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	slog.Info("state migrations applied", "version", version, "dirty", dirty)
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the persisted state for a flow key, or ErrFlowStateMissing.
func (s *Store) Get(ctx context.Context, flowKey string) (*domain.FlowState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, lead_name, lead_email, lead_phone FROM flow_state WHERE flow_key = ?`, flowKey)

	var st domain.FlowState
	var name, email, phone string
	if err := row.Scan(&st.ChatID, &name, &email, &phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFlowStateMissing
		}
		return nil, fmt.Errorf("get flow state: %w", err)
	}
	if name != "" || email != "" || phone != "" {
		st.Lead = &domain.Lead{Name: name, Email: email, Phone: phone}
	}
	return &st, nil
}

// SetChatID records the chat id for a flow key, written whenever the
// session's chat id is established or reassigned.
func (s *Store) SetChatID(ctx context.Context, flowKey, chatID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_state (flow_key, chat_id, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (flow_key) DO UPDATE SET chat_id = excluded.chat_id, updated_at = CURRENT_TIMESTAMP`,
		flowKey, chatID)
	if err != nil {
		return fmt.Errorf("set chat id: %w", err)
	}
	return nil
}

// SetLead records the captured lead alongside the chat id.
func (s *Store) SetLead(ctx context.Context, flowKey string, lead domain.Lead) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_state (flow_key, chat_id, lead_name, lead_email, lead_phone, updated_at)
		VALUES (?, '', ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (flow_key) DO UPDATE SET
			lead_name = excluded.lead_name,
			lead_email = excluded.lead_email,
			lead_phone = excluded.lead_phone,
			updated_at = CURRENT_TIMESTAMP`,
		flowKey, lead.Name, lead.Email, lead.Phone)
	if err != nil {
		return fmt.Errorf("set lead: %w", err)
	}
	return nil
}

// Delete drops the persisted state for a flow key.
func (s *Store) Delete(ctx context.Context, flowKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_state WHERE flow_key = ?`, flowKey); err != nil {
		return fmt.Errorf("delete flow state: %w", err)
	}
	return nil
}
