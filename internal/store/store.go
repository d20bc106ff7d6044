package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"tg-shop/internal/metrics"
)

const (
	categoriesFile = "categories.json"
	productsFile   = "products.json"
	cartsFile      = "carts.json"
	bansFile       = "bans.json"
	logsFile       = "logs.json"
	seqFile        = "seq.json"

	mediaDirName   = "media"
	uploadsDirName = "uploads"
	thumbsDirName  = "thumbs"

	defaultLogLimit = 200
)

// Ingestor fetches an external image and materialises it in the media tree.
// Implemented by internal/media.
type Ingestor interface {
	Ingest(ctx context.Context, sourceURL string) (imagePath, thumbPath string, err error)
}

// Config holds store construction parameters.
type Config struct {
	// Dir is the root of the data tree. Collections live directly under it,
	// media files under Dir/media.
	Dir string
	// LogLimit bounds the audit log; zero means the default of 200 entries.
	LogLimit int
}

// sequences holds monotonic id high-water marks so ids are never reused,
// even after the record holding the highest id is deleted.
type sequences struct {
	Category int64 `json:"category"`
	Product  int64 `json:"product"`
}

// Store owns the JSON-backed collections and the bounded audit log. A single
// mutex serialises every operation that touches shared state; callers only
// ever receive copies of the records.
type Store struct {
	mu       sync.Mutex
	dir      string
	logLimit int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	ingest   Ingestor

	categories []Category
	products   []Product
	carts      map[int64]map[int64]int64
	bans       map[int64]Ban
	logs       []LogEntry
	seq        sequences
}

// Open loads the collections from cfg.Dir, creating the directory tree and
// empty collections on first run.
func Open(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("store: data dir is required")
	}
	limit := cfg.LogLimit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	s := &Store{
		dir:      filepath.Clean(cfg.Dir),
		logLimit: limit,
		logger:   logger.With("component", "store"),
		metrics:  metricRegistry,
		carts:    make(map[int64]map[int64]int64),
		bans:     make(map[int64]Ban),
	}

	if err := ensureTree(s.dir); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	s.logger.Info("store opened",
		"dir", s.dir,
		"categories", len(s.categories),
		"products", len(s.products),
		"carts", len(s.carts),
	)
	return s, nil
}

// SetIngestor injects the media ingestor used during product create/update.
func (s *Store) SetIngestor(ing Ingestor) {
	s.ingest = ing
}

// MediaDir returns the absolute path of the media tree root.
func (s *Store) MediaDir() string {
	return filepath.Join(s.dir, mediaDirName)
}

func ensureTree(dir string) error {
	for _, d := range []string{
		dir,
		filepath.Join(dir, mediaDirName, uploadsDirName),
		filepath.Join(dir, mediaDirName, thumbsDirName),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create data dir %s: %w", d, err)
		}
	}
	return nil
}

func (s *Store) load() error {
	if _, err := loadJSON(filepath.Join(s.dir, categoriesFile), &s.categories); err != nil {
		return err
	}
	if _, err := loadJSON(filepath.Join(s.dir, productsFile), &s.products); err != nil {
		return err
	}

	var rawCarts map[string]map[string]int64
	if _, err := loadJSON(filepath.Join(s.dir, cartsFile), &rawCarts); err != nil {
		return err
	}
	s.carts = cartsFromDisk(rawCarts)

	var banList []Ban
	if _, err := loadJSON(filepath.Join(s.dir, bansFile), &banList); err != nil {
		return err
	}
	s.bans = make(map[int64]Ban, len(banList))
	for _, b := range banList {
		s.bans[b.UserID] = b
	}

	if _, err := loadJSON(filepath.Join(s.dir, logsFile), &s.logs); err != nil {
		return err
	}
	if len(s.logs) > s.logLimit {
		s.logs = s.logs[len(s.logs)-s.logLimit:]
	}

	if _, err := loadJSON(filepath.Join(s.dir, seqFile), &s.seq); err != nil {
		return err
	}
	// Collections edited out-of-band may carry ids above the stored marks.
	for _, c := range s.categories {
		if c.ID > s.seq.Category {
			s.seq.Category = c.ID
		}
	}
	for _, p := range s.products {
		if p.ID > s.seq.Product {
			s.seq.Product = p.ID
		}
	}
	return nil
}

// loadJSON reads path into dest, reporting whether the file existed.
func loadJSON(path string, dest any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// saveJSONLocked atomically persists v under name in the data dir. The caller
// must hold the store mutex.
func (s *Store) saveJSONLocked(name string, v any) error {
	return writeJSONFile(filepath.Join(s.dir, name), v)
}

// writeJSONFile marshals v and writes it via a temp-file rename so readers
// never observe a partially written collection.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Store) saveCartsLocked() error {
	return s.saveJSONLocked(cartsFile, cartsToDisk(s.carts))
}

func (s *Store) saveBansLocked() error {
	return s.saveJSONLocked(bansFile, bansToDisk(s.bans))
}

func (s *Store) saveSeqLocked() error {
	return s.saveJSONLocked(seqFile, s.seq)
}

// cartsToDisk converts the in-memory cart index to its JSON object form with
// decimal string keys.
func cartsToDisk(carts map[int64]map[int64]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(carts))
	for uid, cart := range carts {
		if len(cart) == 0 {
			continue
		}
		lines := make(map[string]int64, len(cart))
		for pid, qty := range cart {
			lines[strconv.FormatInt(pid, 10)] = qty
		}
		out[strconv.FormatInt(uid, 10)] = lines
	}
	return out
}

// cartsFromDisk parses the persisted cart object, skipping malformed keys and
// non-positive quantities.
func cartsFromDisk(raw map[string]map[string]int64) map[int64]map[int64]int64 {
	out := make(map[int64]map[int64]int64, len(raw))
	for uidStr, cart := range raw {
		uid, err := strconv.ParseInt(uidStr, 10, 64)
		if err != nil {
			continue
		}
		lines := make(map[int64]int64, len(cart))
		for pidStr, qty := range cart {
			pid, err := strconv.ParseInt(pidStr, 10, 64)
			if err != nil || qty <= 0 {
				continue
			}
			lines[pid] = qty
		}
		if len(lines) > 0 {
			out[uid] = lines
		}
	}
	return out
}

func bansToDisk(bans map[int64]Ban) []Ban {
	out := make([]Ban, 0, len(bans))
	for _, b := range bans {
		out = append(out, b)
	}
	sortBansByUser(out)
	return out
}

func (s *Store) opOK(op string) {
	if s.metrics != nil {
		s.metrics.StoreOps.WithLabelValues(op, "ok").Inc()
	}
}

func (s *Store) opErr(op string) {
	if s.metrics != nil {
		s.metrics.StoreOps.WithLabelValues(op, "error").Inc()
	}
}
