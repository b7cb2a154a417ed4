package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/wwwsave/pkg/log"
	"github.com/Sriram-PR/wwwsave/pkg/models"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

const (
	pageKeyPrefix     = "page:"    // Prefix for page URL keys in DB
	resourceKeyPrefix = "res:"     // Prefix for resource URL keys in DB
	runMetaKey        = "meta:run" // Identity of the run the journal belongs to
	journalDirSuffix  = "_journal" // Appended to the sanitized site key under stateDir
)

// BadgerJournal implements the Journal interface using BadgerDB
type BadgerJournal struct {
	db  *badger.DB
	log *logrus.Entry
}

// JournalPath returns the directory holding the journal of a site
func JournalPath(stateDir, siteKey string) string {
	return filepath.Join(stateDir, utils.SanitizeFilename(siteKey)+journalDirSuffix)
}

// OpenJournal opens the journal of a site. Without resume any previous journal is removed first.
func OpenJournal(stateDir, siteKey string, resume bool, logger *logrus.Entry) (*BadgerJournal, error) {
	dbPath := JournalPath(stateDir, siteKey)

	if !resume {
		if _, err := os.Stat(dbPath); err == nil {
			logger.Warnf("Not resuming. REMOVING existing journal: %s", dbPath)
		}
		if err := os.RemoveAll(dbPath); err != nil {
			// Badger may still manage to open over the leftovers
			logger.Errorf("Failed to remove existing journal %s: %v", dbPath, err)
		}
	}

	logger.Infof("Opening archive journal at: %s (Resume: %v)", dbPath, resume)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create journal directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}
	return &BadgerJournal{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Resource workers write concurrently, so overlapping keys can return badger.ErrConflict.
func (j *BadgerJournal) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := j.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		j.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// put marshals value under key
func (j *BadgerJournal) put(key string, value interface{}) error {
	if j.db == nil || j.db.IsClosed() {
		return fmt.Errorf("%w: journal not open", utils.ErrDatabase)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal entry for key '%s': %w", utils.ErrParsing, key, err)
	}
	err = j.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data))
	})
	if err != nil {
		j.log.WithField("key", key).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: failed setting key '%s': %w", utils.ErrDatabase, key, err)
	}
	return nil
}

// get decodes the value under key into out. found is false for a missing or undecodable value.
func (j *BadgerJournal) get(key string, out interface{}) (found bool, err error) {
	if j.db == nil || j.db.IsClosed() {
		return false, fmt.Errorf("%w: journal not open", utils.ErrDatabase)
	}
	err = j.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(key))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, key, errGet)
		}
		return item.Value(func(val []byte) error {
			if errJSON := json.Unmarshal(val, out); errJSON != nil {
				j.log.Warnf("Failed to unmarshal journal entry for key '%s': %v. Treating as not found.", key, errJSON)
				return nil
			}
			found = true
			return nil
		})
	})
	if err != nil {
		j.log.Errorf("DB View error for key '%s': %v", key, err)
		return false, err
	}
	return found, nil
}

// CheckPageStatus implements the Journal interface
func (j *BadgerJournal) CheckPageStatus(pageURL string) (models.PageStatus, *models.PageDBEntry, error) {
	var entry models.PageDBEntry
	found, err := j.get(pageKeyPrefix+pageURL, &entry)
	if err != nil {
		return models.PageStatusDBError, nil, err
	}
	if !found {
		return models.PageStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// RecordPage implements the Journal interface
func (j *BadgerJournal) RecordPage(pageURL string, entry *models.PageDBEntry) error {
	if err := j.put(pageKeyPrefix+pageURL, entry); err != nil {
		return err
	}
	j.log.Debugf("Journal: page '%s' -> %s", pageURL, entry.Status)
	return nil
}

// CheckResourceStatus implements the Journal interface
func (j *BadgerJournal) CheckResourceStatus(resourceURL string) (models.ResourceStatus, *models.ResourceDBEntry, error) {
	var entry models.ResourceDBEntry
	found, err := j.get(resourceKeyPrefix+resourceURL, &entry)
	if err != nil {
		return models.ResourceStatusDBError, nil, err
	}
	if !found {
		return models.ResourceStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// RecordResource implements the Journal interface
func (j *BadgerJournal) RecordResource(resourceURL string, entry *models.ResourceDBEntry) error {
	return j.put(resourceKeyPrefix+resourceURL, entry)
}

// SaveRunMeta implements the Journal interface
func (j *BadgerJournal) SaveRunMeta(meta *models.RunMeta) error {
	return j.put(runMetaKey, meta)
}

// LoadRunMeta implements the Journal interface
func (j *BadgerJournal) LoadRunMeta() (*models.RunMeta, error) {
	var meta models.RunMeta
	found, err := j.get(runMetaKey, &meta)
	if err != nil || !found {
		return nil, err
	}
	return &meta, nil
}

// scan walks every journal key in order, stopping early on ctx cancellation
func (j *BadgerJournal) scan(ctx context.Context, fn func(key, val []byte) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
				return err
			}
		}
		return nil
	})
}

// Counts implements the Journal interface
func (j *BadgerJournal) Counts(ctx context.Context) (Counts, error) {
	counts := Counts{
		Pages:     make(map[models.PageStatus]int),
		Resources: make(map[models.ResourceStatus]int),
	}
	err := j.scan(ctx, func(key, val []byte) error {
		switch {
		case bytes.HasPrefix(key, []byte(pageKeyPrefix)):
			var e models.PageDBEntry
			if json.Unmarshal(val, &e) == nil {
				counts.Pages[e.Status]++
			}
		case bytes.HasPrefix(key, []byte(resourceKeyPrefix)):
			var e models.ResourceDBEntry
			if json.Unmarshal(val, &e) == nil {
				counts.Resources[e.Status]++
			}
		}
		return nil
	})
	if err != nil {
		return counts, fmt.Errorf("%w: counting journal entries: %w", utils.ErrDatabase, err)
	}
	return counts, nil
}

// WriteVisitedLog implements the Journal interface
func (j *BadgerJournal) WriteVisitedLog(ctx context.Context, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	written := 0
	iterErr := j.scan(ctx, func(key, val []byte) error {
		var kind, status, rest string
		switch {
		case bytes.HasPrefix(key, []byte(pageKeyPrefix)):
			var e models.PageDBEntry
			_ = json.Unmarshal(val, &e)
			kind, status, rest = "page", e.Status.String(), string(key[len(pageKeyPrefix):])
		case bytes.HasPrefix(key, []byte(resourceKeyPrefix)):
			var e models.ResourceDBEntry
			_ = json.Unmarshal(val, &e)
			kind, status, rest = "resource", e.Status.String(), string(key[len(resourceKeyPrefix):])
		case string(key) == runMetaKey:
			return nil
		default:
			j.log.Warnf("Skipping unexpected key in journal: %s", string(key))
			return nil
		}
		if _, err := fmt.Fprintf(writer, "%s\t%s\t%s\n", kind, status, rest); err != nil {
			return err
		}
		written++
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && iterErr == nil {
		iterErr = flushErr
	}
	if syncErr := file.Sync(); syncErr != nil && iterErr == nil {
		iterErr = syncErr
	}
	if iterErr != nil {
		if errors.Is(iterErr, context.Canceled) || errors.Is(iterErr, context.DeadlineExceeded) {
			return iterErr
		}
		return fmt.Errorf("%w: writing visited log '%s': %w", utils.ErrFilesystem, filePath, iterErr)
	}
	j.log.Infof("Wrote %d journal entries to visited log: %s", written, filePath)
	return nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (j *BadgerJournal) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if j.db == nil || j.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				err = j.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				j.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close implements the Journal interface
func (j *BadgerJournal) Close() error {
	if j.db == nil || j.db.IsClosed() {
		return nil
	}
	if err := j.db.Close(); err != nil {
		j.log.Errorf("Error closing journal: %v", err)
		return fmt.Errorf("%w: closing journal: %w", utils.ErrDatabase, err)
	}
	j.log.Debug("Journal closed.")
	return nil
}

var _ Journal = (*BadgerJournal)(nil)
