package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	. "dashboard-feedback/internal/common"
	. "dashboard-feedback/internal/interfaces"
	"dashboard-feedback/internal/models"

	bolt "go.etcd.io/bbolt"
)

const (
	submissionsBucket = "submissions"
	metadataBucket    = "metadata"
	lastPurgeKey      = "last_purge"
)

type storage struct {
	db     *bolt.DB
	config *StorageConfig
}

func NewStorage(config *StorageConfig) (Storage, error) {
	dbDir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(config.DatabasePath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(submissionsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metadataBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &storage{
		db:     db,
		config: config,
	}, nil
}

func (s *storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// submissionKey sorts chronologically: RFC3339Nano in UTC followed by the id
func submissionKey(record *models.SubmissionRecord) []byte {
	return []byte(fmt.Sprintf("%s:%s", record.Created.UTC().Format(time.RFC3339Nano), record.ID))
}

func (s *storage) SaveSubmission(record *models.SubmissionRecord) error {
	if record == nil || record.ID == "" {
		return NewValidationError("invalid_record", "Submission record requires an id")
	}
	if record.Created.IsZero() {
		record.Created = time.Now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionsBucket))

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal submission %s: %w", record.ID, err)
		}

		if err := bucket.Put(submissionKey(record), data); err != nil {
			return fmt.Errorf("failed to save submission %s: %w", record.ID, err)
		}
		return nil
	})
}

// LoadSubmissions returns every stored record, newest first
func (s *storage) LoadSubmissions() ([]*models.SubmissionRecord, error) {
	records := make([]*models.SubmissionRecord, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionsBucket))

		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var record models.SubmissionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			records = append(records, &record)
		}
		return nil
	})

	// keys written by clocks with different precision can tie; keep the order stable
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Created.After(records[j].Created)
	})

	return records, err
}

func (s *storage) GetSubmission(id string) (*models.SubmissionRecord, error) {
	var found *models.SubmissionRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionsBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var record models.SubmissionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil
			}
			if record.ID == id {
				found = &record
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, NewValidationError("submission_not_found", "Submission not found").WithContext("id", id)
	}
	return found, nil
}

func (s *storage) ClearSubmissions() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(submissionsBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(submissionsBucket))
		return err
	})
}

// PurgeOlderThan removes records created before cutoff and returns how many
// were deleted
func (s *storage) PurgeOlderThan(cutoff time.Time) (int, error) {
	removed := 0
	limit := []byte(cutoff.UTC().Format(time.RFC3339Nano))

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionsBucket))

		var stale [][]byte
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var record models.SubmissionRecord
			if err := json.Unmarshal(v, &record); err == nil {
				if !record.Created.Before(cutoff) {
					continue
				}
			} else if string(k) >= string(limit) {
				continue
			}
			stale = append(stale, append([]byte(nil), k...))
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)

		metaBucket := tx.Bucket([]byte(metadataBucket))
		data, _ := time.Now().MarshalBinary()
		return metaBucket.Put([]byte(lastPurgeKey), data)
	})

	return removed, err
}

// GetLastPurge reports when retention was last enforced, or "" if never
func (s *storage) GetLastPurge() (string, error) {
	var lastPurge time.Time

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(metadataBucket)).Get([]byte(lastPurgeKey))
		if data == nil {
			return nil
		}
		return lastPurge.UnmarshalBinary(data)
	})
	if err != nil {
		return "", err
	}

	if lastPurge.IsZero() {
		return "", nil
	}
	return lastPurge.Format("2006-01-02 15:04"), nil
}
