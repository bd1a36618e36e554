// Package journal persists finished waits to a bbolt database so that field
// units can report how their lines behaved (latency, coalesced edges,
// failures) after the fact.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"digitalwait-go/digital"
	"digitalwait-go/errcode"
)

const bboltLinesBucket = "lines" // one child bucket per line name

// Entry is one stored wait.
type Entry struct {
	Seq        uint64        `json:"seq"`
	Line       string        `json:"line"`
	Cond       string        `json:"cond"`
	Outcome    string        `json:"outcome"`
	Abandoned  bool          `json:"abandoned"`
	Error      string        `json:"error,omitempty"`
	Code       errcode.Code  `json:"code,omitempty"`
	Coalesced  uint32        `json:"coalesced,omitempty"`
	Latency    time.Duration `json:"latency_ns,omitempty"` // armed -> first notification
	ArmedAt    time.Time     `json:"armed_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// FromRecord converts a digital.Record for storage.
func FromRecord(r digital.Record) Entry {
	e := Entry{
		Line:       r.Line,
		Cond:       r.Cond.String(),
		Outcome:    r.Outcome.String(),
		Abandoned:  r.Abandoned,
		Coalesced:  r.Coalesced,
		ArmedAt:    r.ArmedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
		e.Code = errcode.Of(r.Err)
	}
	if !r.DoneAt.IsZero() {
		e.Latency = r.DoneAt.Sub(r.ArmedAt)
	}
	return e
}

// Journal is a bbolt-backed wait log.
type Journal struct {
	db *bbolt.DB

	// Logger receives append failures from Observer. Defaults to logrus'
	// standard logger.
	Logger logrus.FieldLogger
}

// Open opens a journal at the given path and creates the needed buckets
// if they don't exist.
func Open(path string, mode os.FileMode, options *bbolt.Options) (*Journal, error) {
	db, err := bbolt.Open(path, mode, options)
	if err != nil {
		return nil, fmt.Errorf("unable to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bboltLinesBucket)); err != nil {
			return fmt.Errorf("unable to create bucket %q: %w", bboltLinesBucket, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to create bbolt buckets: %w", err)
	}

	return &Journal{db: db, Logger: logrus.StandardLogger()}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores r under its line and returns the assigned sequence number.
// Records from unnamed lines are rejected.
func (j *Journal) Append(r digital.Record) (uint64, error) {
	if r.Line == "" {
		return 0, &errcode.E{C: errcode.InvalidParams, Op: "journal.append", Msg: "line name required"}
	}
	e := FromRecord(r)
	err := j.db.Update(func(tx *bbolt.Tx) error {
		lines := tx.Bucket([]byte(bboltLinesBucket))
		b, err := lines.CreateBucketIfNotExists([]byte(e.Line))
		if err != nil {
			return fmt.Errorf("unable to create bucket for line %q: %w", e.Line, err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq

		v, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("unable to marshal entry: %w", err)
		}
		return b.Put(seqKey(seq), v)
	})
	if err != nil {
		return 0, fmt.Errorf("unable to append to line %q: %w", e.Line, err)
	}
	return e.Seq, nil
}

// Observer returns a callback for digital.WithObserver. Append failures are
// logged, never returned to the waiting code.
func (j *Journal) Observer() func(digital.Record) {
	return func(r digital.Record) {
		if _, err := j.Append(r); err != nil {
			j.Logger.WithError(err).WithField("line", r.Line).Warn("journal append failed")
		}
	}
}

// Entries returns every stored wait for line in insertion order.
func (j *Journal) Entries(line string) ([]Entry, error) {
	var out []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bboltLinesBucket)).Bucket([]byte(line))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unable to unmarshal entry: %w", err)
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read line %q: %w", line, err)
	}
	return out, nil
}

// Lines returns the names of every line with stored waits.
func (j *Journal) Lines() ([]string, error) {
	var names []string
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bboltLinesBucket)).ForEach(func(k, v []byte) error {
			if v == nil { // nested bucket
				names = append(names, string(k))
			}
			return nil
		})
	})
	return names, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
