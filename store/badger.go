package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"docdl/models"
)

const (
	prefixItem       = "ingest_items/"
	prefixRegulation = "regulations/"
	prefixRun        = "ingest_runs/"
)

// BadgerStore implementiert DocumentStore auf einer eingebetteten Badger-DB.
// Datensätze werden als JSON unter ihrem natürlichen Schlüssel abgelegt.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// badgerLogger leitet die Badger-Logs an zap weiter.
type badgerLogger struct {
	log *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...interface{})   { l.log.Errorf(msg, args...) }
func (l *badgerLogger) Warningf(msg string, args ...interface{}) { l.log.Warnf(msg, args...) }
func (l *badgerLogger) Infof(msg string, args ...interface{})    { l.log.Debugf(msg, args...) }
func (l *badgerLogger) Debugf(msg string, args ...interface{})   { l.log.Debugf(msg, args...) }

// OpenBadgerStore öffnet die Datenbank im Verzeichnis dir. Ein leeres dir
// öffnet eine reine In-Memory-Datenbank.
func OpenBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = &badgerLogger{log: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Backup schreibt einen vollständigen Dump aller Schlüssel nach w. Der Dump
// lässt sich mit Restore in eine leere Datenbank einspielen.
func (s *BadgerStore) Backup(w io.Writer) error {
	_, err := s.db.Backup(w, 0)
	return err
}

// Restore spielt einen mit Backup erzeugten Dump ein.
func (s *BadgerStore) Restore(r io.Reader) error {
	return s.db.Load(r, 16)
}

// withTx führt fn in einer Transaktion aus und committet schreibende
// Transaktionen, wenn fn keinen Fehler liefert.
func (s *BadgerStore) withTx(ctx context.Context, write bool, fn func(tx *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := s.db.NewTransaction(write)
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	if write {
		return tx.Commit()
	}
	return nil
}

// readJSON dekodiert den Wert unter key in v. found ist false, wenn der
// Schlüssel fehlt.
func readJSON(tx *badger.Txn, key string, v interface{}) (bool, error) {
	item, err := tx.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func writeJSON(tx *badger.Txn, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Set([]byte(key), raw)
}

func (s *BadgerStore) UpsertIngestRun(ctx context.Context, run *models.IngestRun) error {
	key := prefixRun + run.RunID
	err := s.withTx(ctx, true, func(tx *badger.Txn) error {
		var existing models.IngestRun
		found, err := readJSON(tx, key, &existing)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if found {
			run.ID = existing.ID
			run.CreatedAt = existing.CreatedAt
		} else {
			if run.ID == uuid.Nil {
				run.ID = uuid.New()
			}
			run.CreatedAt = now
		}
		run.UpdatedAt = now
		return writeJSON(tx, key, run)
	})
	if err != nil {
		return fmt.Errorf("upsert ingest run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *BadgerStore) UpdateIngestRun(ctx context.Context, runID string, patch RunPatch) error {
	key := prefixRun + runID
	err := s.withTx(ctx, true, func(tx *badger.Txn) error {
		var run models.IngestRun
		found, err := readJSON(tx, key, &run)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		if patch.FinishedAt != nil {
			finished := *patch.FinishedAt
			run.FinishedAt = &finished
		}
		if patch.SuccessCount != nil {
			run.SuccessCount = *patch.SuccessCount
		}
		if patch.FailCount != nil {
			run.FailCount = *patch.FailCount
		}
		if patch.DurationS != nil {
			run.DurationS = *patch.DurationS
		}
		if patch.Meta != nil {
			run.Meta = patch.Meta
		}
		run.UpdatedAt = s.now().UTC()
		return writeJSON(tx, key, &run)
	})
	if err != nil {
		return fmt.Errorf("update ingest run %s: %w", runID, err)
	}
	return nil
}

func (s *BadgerStore) UpsertIngestItem(ctx context.Context, item *models.IngestItem) (*models.IngestItem, error) {
	key := prefixItem + item.DocURL
	var stored models.IngestItem
	err := s.withTx(ctx, true, func(tx *badger.Txn) error {
		found, err := readJSON(tx, key, &stored)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if !found {
			stored = *item
			if stored.ID == uuid.Nil {
				stored.ID = uuid.New()
			}
			stored.CreatedAt = now
		} else {
			stored.RunID = item.RunID
			stored.SourceID = item.SourceID
			stored.Series = item.Series
			stored.Title = item.Title
			stored.Language = item.Language
			stored.Artifact = item.Artifact
			stored.Status = item.Status
			stored.Error = item.Error
			stored.Meta = item.Meta
		}
		stored.UpdatedAt = now
		return writeJSON(tx, key, &stored)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert ingest item %s: %w", item.DocURL, err)
	}
	return &stored, nil
}

func (s *BadgerStore) SetIngestItemStatus(ctx context.Context, docURL string, status models.ItemStatus, patch StatusPatch) error {
	key := prefixItem + docURL
	err := s.withTx(ctx, true, func(tx *badger.Txn) error {
		var item models.IngestItem
		found, err := readJSON(tx, key, &item)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		item.Status = status
		if patch.Error != "" {
			item.Error = models.TruncateError(patch.Error)
		}
		if patch.PDFURL != "" {
			item.PDFURL = patch.PDFURL
		}
		if patch.ContentHash != "" {
			item.ContentHash = patch.ContentHash
		}
		if patch.RawTextLength != nil {
			item.RawTextLength = *patch.RawTextLength
		}
		if patch.StorageLink != "" {
			item.StorageLink = patch.StorageLink
		}
		item.UpdatedAt = s.now().UTC()
		return writeJSON(tx, key, &item)
	})
	if err != nil {
		return fmt.Errorf("set status %s for %s: %w", status, docURL, err)
	}
	return nil
}

func (s *BadgerStore) GetRegulationByDocURL(ctx context.Context, docURL string) (*models.Regulation, error) {
	var reg models.Regulation
	var found bool
	err := s.withTx(ctx, false, func(tx *badger.Txn) error {
		var err error
		found, err = readJSON(tx, prefixRegulation+docURL, &reg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get regulation %s: %w", docURL, err)
	}
	if !found {
		return nil, nil
	}
	return &reg, nil
}

func (s *BadgerStore) UpsertRegulation(ctx context.Context, reg *models.Regulation) error {
	key := prefixRegulation + reg.DocURL
	err := s.withTx(ctx, true, func(tx *badger.Txn) error {
		var existing models.Regulation
		found, err := readJSON(tx, key, &existing)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if found {
			reg.ID = existing.ID
			reg.CreatedAt = existing.CreatedAt
		} else {
			if reg.ID == uuid.Nil {
				reg.ID = uuid.New()
			}
			reg.CreatedAt = now
		}
		reg.UpdatedAt = now
		return writeJSON(tx, key, reg)
	})
	if err != nil {
		return fmt.Errorf("upsert regulation %s: %w", reg.DocURL, err)
	}
	return nil
}

// GetIngestItem liefert (nil, nil), wenn kein Item existiert.
func (s *BadgerStore) GetIngestItem(ctx context.Context, docURL string) (*models.IngestItem, error) {
	var item models.IngestItem
	var found bool
	err := s.withTx(ctx, false, func(tx *badger.Txn) error {
		var err error
		found, err = readJSON(tx, prefixItem+docURL, &item)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get ingest item %s: %w", docURL, err)
	}
	if !found {
		return nil, nil
	}
	return &item, nil
}

// GetIngestRun liefert (nil, nil), wenn kein Lauf existiert.
func (s *BadgerStore) GetIngestRun(ctx context.Context, runID string) (*models.IngestRun, error) {
	var run models.IngestRun
	var found bool
	err := s.withTx(ctx, false, func(tx *badger.Txn) error {
		var err error
		found, err = readJSON(tx, prefixRun+runID, &run)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get ingest run %s: %w", runID, err)
	}
	if !found {
		return nil, nil
	}
	return &run, nil
}
