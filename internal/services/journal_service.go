package services

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/pixelplaza/backend/internal/models"
)

// JournalService persists committed ledger entries to Postgres as an
// append-only audit trail. Entries are queued in memory and flushed by a
// background writer so the ledger never holds its locks across I/O. The
// in-process ledger remains the source of truth; the journal is for audit
// and recovery tooling.
type JournalService struct {
	mu      sync.Mutex
	pending []models.LedgerEntry
	db      *sql.DB
}

func NewJournalService(db *sql.DB) *JournalService {
	return &JournalService{db: db}
}

// Record implements ledger.Journal. Never blocks.
func (s *JournalService) Record(entries []models.LedgerEntry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, entries...)
	s.mu.Unlock()
}

// Pending reports the queue depth.
func (s *JournalService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush writes all queued entries in one transaction. Entries stay queued
// on failure and are retried on the next flush.
func (s *JournalService) Flush() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := s.write(batch); err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return err
	}

	log.Printf("[JOURNAL] Flushed %d entries", len(batch))
	return nil
}

func (s *JournalService) write(batch []models.LedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO ledger_entries (id, correlation_id, account_id, currency, amount, kind, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.ID, e.CorrelationID, e.AccountID, string(e.Currency), e.Amount, string(e.Kind), string(e.Status), e.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Start flushes on a ticker until the context is cancelled, with one last
// flush on shutdown.
func (s *JournalService) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if err := s.Flush(); err != nil {
					log.Printf("[JOURNAL] Final flush failed: %v", err)
				}
				return
			case <-ticker.C:
				if err := s.Flush(); err != nil {
					log.Printf("[JOURNAL] Flush failed, will retry: %v", err)
				}
			}
		}
	}()
}
