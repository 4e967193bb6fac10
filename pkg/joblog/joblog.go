// Package joblog persists a history of completed jobs (id, pgid, command
// line, exit status, start and end times) to a bbolt database. It is a
// feature supplemented from original_source/ (spec.md's distillation
// keeps only the excluded SQLite command-line history layer; a much
// smaller job-completion log is in scope for the concurrency core). eval
// records every finished pipeline here; the `jobs` and `wait` builtins do
// not read it.
package joblog

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketJobs = []byte("jobs")

// Entry records the outcome of one completed job.
type Entry struct {
	Seq     int       `json:"seq"`
	JobID   int       `json:"job_id"`
	PGID    int       `json:"pgid"`
	Command string    `json:"command"`
	Status  int       `json:"status"`
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`
}

// Log is a bbolt-backed append-only job history.
type Log struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the job log at path.
func Open(path string) (*Log, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJobs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Record appends e to the log, assigning it the next sequence number.
func (l *Log) Record(e Entry) (int, error) {
	var seq uint64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = int(seq)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(marshalSeq(seq), data)
	})
	return int(seq), err
}

// Recent returns up to n most recently recorded entries, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func marshalSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
