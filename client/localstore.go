package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"example/veritas-api/app/models"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketResults    = []byte("results")
	bucketHighlights = []byte("highlights")
)

// CachedResult is a completed analysis kept per page URL.
type CachedResult struct {
	URL        string                `json:"url"`
	Title      string                `json:"title,omitempty"`
	Result     models.AnalysisResult `json:"result"`
	AnalyzedAt time.Time             `json:"analyzed_at"`
}

// LocalStore keeps results and highlight state in a bbolt file, keyed by URL.
type LocalStore struct {
	db *bolt.DB
}

func OpenLocalStore(path string) (*LocalStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("local store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketResults); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketHighlights)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LocalStore{db: db}, nil
}

func (s *LocalStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *LocalStore) Result(url string) (CachedResult, bool, error) {
	var out CachedResult
	found, err := s.get(bucketResults, url, &out)
	return out, found, err
}

func (s *LocalStore) PutResult(r CachedResult) error {
	return s.put(bucketResults, r.URL, r)
}

func (s *LocalStore) Highlights(url string) ([]models.FlaggedSnippet, bool, error) {
	var out []models.FlaggedSnippet
	found, err := s.get(bucketHighlights, url, &out)
	return out, found, err
}

func (s *LocalStore) PutHighlights(url string, snippets []models.FlaggedSnippet) error {
	if snippets == nil {
		snippets = []models.FlaggedSnippet{}
	}
	return s.put(bucketHighlights, url, snippets)
}

// DeleteSite removes the cached result and highlights for url.
func (s *LocalStore) DeleteSite(url string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketResults).Delete([]byte(url)); err != nil {
			return err
		}
		return tx.Bucket(bucketHighlights).Delete([]byte(url))
	})
}

// Results lists cached results, newest first.
func (s *LocalStore) Results() ([]CachedResult, error) {
	var out []CachedResult
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).ForEach(func(_, v []byte) error {
			var r CachedResult
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			out = append(out, r)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AnalyzedAt.After(out[j].AnalyzedAt) })
	return out, err
}

func (s *LocalStore) get(bucket []byte, key string, dst any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, dst)
	})
	return found, err
}

func (s *LocalStore) put(bucket []byte, key string, v any) error {
	if key == "" {
		return errors.New("empty key")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), raw)
	})
}
