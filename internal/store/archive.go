package store

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	archiveDataPrefix  = "data/"
	archiveMediaPrefix = "media/"
)

// requiredCollections are the entries an archive must carry to be importable.
var requiredCollections = []string{
	categoriesFile,
	productsFile,
	cartsFile,
	bansFile,
	logsFile,
}

// snapshot is the fully parsed content of an archive, validated before any
// part of the live tree is touched.
type snapshot struct {
	categories []Category
	products   []Product
	carts      map[int64]map[int64]int64
	bans       map[int64]Ban
	logs       []LogEntry
	seq        sequences
}

// ExportArchive writes a consistent point-in-time snapshot of every
// collection plus the media tree as a zip archive. Mutations are blocked for
// the duration of the export.
func (s *Store) ExportArchive(ctx context.Context, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	zw := zip.NewWriter(w)

	collections := []struct {
		name string
		data any
	}{
		{categoriesFile, s.categories},
		{productsFile, s.products},
		{cartsFile, cartsToDisk(s.carts)},
		{bansFile, bansToDisk(s.bans)},
		{logsFile, s.logs},
		{seqFile, s.seq},
	}
	for _, c := range collections {
		if err := writeArchiveJSON(zw, archiveDataPrefix+c.name, c.data); err != nil {
			s.opArchiveErr("export")
			return err
		}
	}

	mediaRoot := s.MediaDir()
	err := filepath.WalkDir(mediaRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// The ingestor writes outside the store mutex via temp-file rename.
		// In-flight .tmp files are not part of the snapshot, and a listed
		// file may be gone by open time.
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(mediaRoot, p)
		if err != nil {
			return err
		}
		if err := copyFileToArchive(zw, archiveMediaPrefix+filepath.ToSlash(rel), p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		s.opArchiveErr("export")
		return fmt.Errorf("archive media tree: %w", err)
	}

	if err := zw.Close(); err != nil {
		s.opArchiveErr("export")
		return fmt.Errorf("finalise archive: %w", err)
	}
	s.opArchiveOK("export")
	s.logger.Info("archive exported",
		"categories", len(s.categories),
		"products", len(s.products),
	)
	return nil
}

// ImportArchive atomically replaces the entire live data tree with the
// archive's contents. The archive is validated and staged as a complete
// sibling tree first; the live tree is then swapped in via renames, so a
// failure at any point leaves the prior state intact.
func (s *Store) ImportArchive(ctx context.Context, data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := parseSnapshot(zr)
	if err != nil {
		s.opArchiveErr("import")
		return err
	}

	token := uuid.NewString()
	staging := s.dir + ".import-" + token
	if err := stageTree(staging, zr, snap); err != nil {
		os.RemoveAll(staging)
		s.opArchiveErr("import")
		return err
	}

	old := s.dir + ".old-" + token
	if err := os.Rename(s.dir, old); err != nil {
		os.RemoveAll(staging)
		s.opArchiveErr("import")
		return fmt.Errorf("move live tree aside: %w", err)
	}
	if err := os.Rename(staging, s.dir); err != nil {
		// Put the previous tree back; the import never happened.
		if rbErr := os.Rename(old, s.dir); rbErr != nil {
			s.logger.Error("rollback after failed import swap failed", "error", rbErr)
		}
		os.RemoveAll(staging)
		s.opArchiveErr("import")
		return fmt.Errorf("swap in imported tree: %w", err)
	}

	s.categories = snap.categories
	s.products = snap.products
	s.carts = snap.carts
	s.bans = snap.bans
	s.logs = snap.logs
	if len(s.logs) > s.logLimit {
		s.logs = s.logs[len(s.logs)-s.logLimit:]
	}
	s.seq = snap.seq

	if err := os.RemoveAll(old); err != nil {
		s.logger.Warn("failed removing pre-import tree", "dir", old, "error", err)
	}

	s.logEventLocked(KindArchiveImport, nil, map[string]any{
		"categories": len(s.categories),
		"products":   len(s.products),
	})
	s.opArchiveOK("import")
	s.logger.Info("archive imported",
		"categories", len(s.categories),
		"products", len(s.products),
	)
	return nil
}

// parseSnapshot validates entry names and decodes every required collection.
func parseSnapshot(zr *zip.Reader) (*snapshot, error) {
	for _, f := range zr.File {
		if !safeArchiveName(f.Name) {
			return nil, fmt.Errorf("%w: unsafe entry name %q", ErrInvalidArchive, f.Name)
		}
	}

	snap := &snapshot{}
	var rawCarts map[string]map[string]int64
	var banList []Ban
	targets := map[string]any{
		categoriesFile: &snap.categories,
		productsFile:   &snap.products,
		cartsFile:      &rawCarts,
		bansFile:       &banList,
		logsFile:       &snap.logs,
	}

	for _, name := range requiredCollections {
		data, err := readArchiveFile(zr, archiveDataPrefix+name)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, targets[name]); err != nil {
			return nil, fmt.Errorf("%w: malformed %s: %v", ErrInvalidArchive, name, err)
		}
	}

	// seq.json is optional; older archives derive the marks from max ids.
	if data, err := readArchiveFile(zr, archiveDataPrefix+seqFile); err == nil {
		if err := json.Unmarshal(data, &snap.seq); err != nil {
			return nil, fmt.Errorf("%w: malformed %s: %v", ErrInvalidArchive, seqFile, err)
		}
	}
	for _, c := range snap.categories {
		if c.ID > snap.seq.Category {
			snap.seq.Category = c.ID
		}
	}
	for _, p := range snap.products {
		if p.ID > snap.seq.Product {
			snap.seq.Product = p.ID
		}
	}

	snap.carts = cartsFromDisk(rawCarts)
	snap.bans = make(map[int64]Ban, len(banList))
	for _, b := range banList {
		snap.bans[b.UserID] = b
	}
	return snap, nil
}

// stageTree materialises a complete replacement data tree at dir.
func stageTree(dir string, zr *zip.Reader, snap *snapshot) error {
	if err := ensureTree(dir); err != nil {
		return err
	}

	collections := []struct {
		name string
		data any
	}{
		{categoriesFile, snap.categories},
		{productsFile, snap.products},
		{cartsFile, cartsToDisk(snap.carts)},
		{bansFile, bansToDisk(snap.bans)},
		{logsFile, snap.logs},
		{seqFile, snap.seq},
	}
	for _, c := range collections {
		if err := writeJSONFile(filepath.Join(dir, c.name), c.data); err != nil {
			return err
		}
	}

	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, archiveMediaPrefix) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		rel := strings.TrimPrefix(f.Name, archiveMediaPrefix)
		dst := filepath.Join(dir, mediaDirName, filepath.FromSlash(rel))
		if err := extractArchiveFile(f, dst); err != nil {
			return err
		}
	}
	return nil
}

// safeArchiveName rejects entry names that could resolve outside the target
// root once extracted.
func safeArchiveName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return false
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

func readArchiveFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidArchive, name)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, name, err)
	}
	return data, nil
}

func writeArchiveJSON(zw *zip.Writer, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}

func copyFileToArchive(zw *zip.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}

func extractArchiveFile(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", f.Name, err)
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

func (s *Store) opArchiveOK(op string) {
	if s.metrics != nil {
		s.metrics.ArchiveOps.WithLabelValues(op, "ok").Inc()
	}
}

func (s *Store) opArchiveErr(op string) {
	if s.metrics != nil {
		s.metrics.ArchiveOps.WithLabelValues(op, "error").Inc()
	}
}
