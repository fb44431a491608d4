package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agentsched/internal/schedule"
	logx "agentsched/pkg/logx"
)

// ErrNotFound is returned when a record is absent. A corrupt or unsealable
// file is logged and reported the same way; it is never surfaced as an error
// past this boundary.
var ErrNotFound = errors.New("record not found")

const (
	recurringDir = "schedules/recurring"
	onetimeDir   = "schedules/one-time"
	resultsDir   = "results"
)

// TenantDigest derives the fixed-length path segment for a tenant credential.
// One-way: hex(SHA-256(credential)) truncated to 16 characters.
func TenantDigest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:16]
}

// Bucket is the (UTC date, hour) partition key for one-time schedules. It
// bounds the sweep's search space to the current hour instead of every
// pending record.
type Bucket struct {
	Date string // YYYY-MM-DD
	Hour string // HH
}

// BucketFor returns the bucket holding a one-time schedule that executes at t.
func BucketFor(t time.Time) Bucket {
	u := t.UTC()
	return Bucket{Date: u.Format("2006-01-02"), Hour: u.Format("15")}
}

func (b Bucket) String() string { return b.Date + "/" + b.Hour }

// Store owns the persisted bytes under root. Records handed out are copies;
// mutations are only durable after an explicit Put.
type Store struct {
	root  string
	codec *Codec
	log   logx.Logger
}

func New(root string, codec *Codec, log logx.Logger) (*Store, error) {
	if codec == nil {
		return nil, errors.New("store codec is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store root: %w", err)
	}
	return &Store{root: root, codec: codec, log: log}, nil
}

// ---- Paths ----

func (s *Store) recurringTenantDir(digest string) string {
	return filepath.Join(s.root, recurringDir, digest)
}

func (s *Store) recurringPath(digest, id string) string {
	return filepath.Join(s.root, recurringDir, digest, id+".json")
}

func (s *Store) bucketDir(b Bucket) string {
	return filepath.Join(s.root, onetimeDir, b.Date, b.Hour)
}

func (s *Store) onetimePath(digest string, b Bucket, id string) string {
	return filepath.Join(s.bucketDir(b), digest, id+".json")
}

func (s *Store) resultPath(digest, id string) string {
	return filepath.Join(s.root, resultsDir, digest, id+".json")
}

// ---- Raw record IO ----

// writeRecord seals and durably writes via temp-file + rename so readers
// never observe a partial blob.
func (s *Store) writeRecord(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	sealed, err := s.codec.Seal(b)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir record dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// readRecord unseals and decodes one record. Missing file is ErrNotFound;
// corrupt or unsealable files are logged, skipped, and also ErrNotFound
// (the file is left in place as inert clutter, not repaired or deleted).
func (s *Store) readRecord(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read record: %w", err)
	}
	plain, err := s.codec.Unseal(raw)
	if err != nil {
		s.log.Warn("unreadable record skipped", logx.String("path", path), logx.Err(err))
		return ErrNotFound
	}
	if err := json.Unmarshal(plain, v); err != nil {
		s.log.Warn("corrupt record skipped", logx.String("path", path), logx.Err(err))
		return ErrNotFound
	}
	return nil
}

// removeRecord deletes the record at path. Returns whether it existed.
// os.Remove is atomic against concurrent reads: after true, no Get sees it.
func (s *Store) removeRecord(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("delete record: %w", err)
}

// ---- Recurring schedules ----

func (s *Store) PutRecurring(rec schedule.Recurring) error {
	return s.writeRecord(s.recurringPath(TenantDigest(rec.Credential), rec.ID), rec)
}

func (s *Store) GetRecurring(credential, id string) (schedule.Recurring, error) {
	var rec schedule.Recurring
	err := s.readRecord(s.recurringPath(TenantDigest(credential), id), &rec)
	return rec, err
}

func (s *Store) DeleteRecurring(credential, id string) (bool, error) {
	return s.removeRecord(s.recurringPath(TenantDigest(credential), id))
}

// WalkAllRecurring streams every recurring schedule across all tenants (the
// sweep path). Order is unspecified. Unreadable records are skipped. Return
// false from fn to stop early.
func (s *Store) WalkAllRecurring(fn func(schedule.Recurring) bool) error {
	base := filepath.Join(s.root, recurringDir)
	tenants, err := readDirNames(base)
	if err != nil {
		return err
	}
	for _, digest := range tenants {
		files, err := readDirNames(filepath.Join(base, digest))
		if err != nil {
			return err
		}
		for _, name := range files {
			if filepath.Ext(name) != ".json" {
				continue
			}
			var rec schedule.Recurring
			if err := s.readRecord(filepath.Join(base, digest, name), &rec); err != nil {
				continue
			}
			if !fn(rec) {
				return nil
			}
		}
	}
	return nil
}

// ListTenantRecurring returns all recurring schedules owned by one tenant.
func (s *Store) ListTenantRecurring(credential string) ([]schedule.Recurring, error) {
	dir := s.recurringTenantDir(TenantDigest(credential))
	files, err := readDirNames(dir)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Recurring, 0, len(files))
	for _, name := range files {
		if filepath.Ext(name) != ".json" {
			continue
		}
		var rec schedule.Recurring
		if err := s.readRecord(filepath.Join(dir, name), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ---- One-time schedules ----

// PutOneTime writes the record into the bucket derived from execute_at.
func (s *Store) PutOneTime(ot schedule.OneTime) error {
	b := BucketFor(ot.ExecuteAt)
	return s.writeRecord(s.onetimePath(TenantDigest(ot.Credential), b, ot.ID), ot)
}

// GetOneTime reads by the fully derived path. Callers must know execute_at;
// id-only lookups go through FindOneTime.
func (s *Store) GetOneTime(credential string, executeAt time.Time, id string) (schedule.OneTime, error) {
	var ot schedule.OneTime
	err := s.readRecord(s.onetimePath(TenantDigest(credential), BucketFor(executeAt), id), &ot)
	return ot, err
}

// DeleteOneTime removes by the fully derived path. The returned bool is the
// lock for the dispatch state machine: true means this caller won.
func (s *Store) DeleteOneTime(credential string, executeAt time.Time, id string) (bool, error) {
	return s.removeRecord(s.onetimePath(TenantDigest(credential), BucketFor(executeAt), id))
}

// WalkBucketOneTime streams every one-time schedule in one bucket across all
// tenants (the sweep path). Return false from fn to stop early.
func (s *Store) WalkBucketOneTime(b Bucket, fn func(schedule.OneTime) bool) error {
	dir := s.bucketDir(b)
	tenants, err := readDirNames(dir)
	if err != nil {
		return err
	}
	for _, digest := range tenants {
		files, err := readDirNames(filepath.Join(dir, digest))
		if err != nil {
			return err
		}
		for _, name := range files {
			if filepath.Ext(name) != ".json" {
				continue
			}
			var ot schedule.OneTime
			if err := s.readRecord(filepath.Join(dir, digest, name), &ot); err != nil {
				continue
			}
			if !fn(ot) {
				return nil
			}
		}
	}
	return nil
}

// FindOneTime searches every bucket for a tenant's one-time schedule by id.
// Bounded cost is acceptable for by-id lookups; the sweep never calls this.
func (s *Store) FindOneTime(credential, id string) (schedule.OneTime, error) {
	digest := TenantDigest(credential)
	base := filepath.Join(s.root, onetimeDir)
	dates, err := readDirNames(base)
	if err != nil {
		return schedule.OneTime{}, err
	}
	for _, date := range dates {
		hours, err := readDirNames(filepath.Join(base, date))
		if err != nil {
			return schedule.OneTime{}, err
		}
		for _, hour := range hours {
			path := filepath.Join(base, date, hour, digest, id+".json")
			var ot schedule.OneTime
			err := s.readRecord(path, &ot)
			if err == nil {
				return ot, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return schedule.OneTime{}, err
			}
		}
	}
	return schedule.OneTime{}, ErrNotFound
}

// ListTenantOneTime returns all pending one-time schedules for one tenant,
// scanning every bucket.
func (s *Store) ListTenantOneTime(credential string) ([]schedule.OneTime, error) {
	digest := TenantDigest(credential)
	base := filepath.Join(s.root, onetimeDir)
	dates, err := readDirNames(base)
	if err != nil {
		return nil, err
	}
	var out []schedule.OneTime
	for _, date := range dates {
		hours, err := readDirNames(filepath.Join(base, date))
		if err != nil {
			return nil, err
		}
		for _, hour := range hours {
			dir := filepath.Join(base, date, hour, digest)
			files, err := readDirNames(dir)
			if err != nil {
				return nil, err
			}
			for _, name := range files {
				if filepath.Ext(name) != ".json" {
					continue
				}
				var ot schedule.OneTime
				if err := s.readRecord(filepath.Join(dir, name), &ot); err != nil {
					continue
				}
				out = append(out, ot)
			}
		}
	}
	return out, nil
}

// ---- Execution results ----

// PutResult overwrites the tenant's result for the schedule id. Results are
// never bucketed and never deleted by schedule operations.
func (s *Store) PutResult(credential string, res schedule.Result) error {
	return s.writeRecord(s.resultPath(TenantDigest(credential), res.ScheduleID), res)
}

func (s *Store) GetResult(credential, scheduleID string) (schedule.Result, error) {
	var res schedule.Result
	err := s.readRecord(s.resultPath(TenantDigest(credential), scheduleID), &res)
	return res, err
}

func (s *Store) ListResults(credential string) ([]schedule.Result, error) {
	dir := filepath.Join(s.root, resultsDir, TenantDigest(credential))
	files, err := readDirNames(dir)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Result, 0, len(files))
	for _, name := range files {
		if filepath.Ext(name) != ".json" {
			continue
		}
		var res schedule.Result
		if err := s.readRecord(filepath.Join(dir, name), &res); err != nil {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// readDirNames lists a directory, treating a missing directory as empty.
func readDirNames(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		names = append(names, e.Name())
	}
	return names, nil
}
