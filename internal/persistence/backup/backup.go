// Package backup keeps zstd-compressed copies of previous save files.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	savePrefix    = "save-"
	corruptPrefix = "corrupt-"
	ext           = ".json.zst"
	stampLayout   = "20060102T150405.000000000Z"
)

type Info struct {
	Name    string
	Path    string
	Size    int64
	Corrupt bool
	TakenAt time.Time
}

type Store struct {
	dir  string
	keep int
	now  func() time.Time
}

// New returns a store under dir keeping the newest keep backups (keep <= 0 keeps all).
// Quarantined corrupt saves are never pruned.
func New(dir string, keep int) *Store {
	return &Store{dir: dir, keep: keep, now: time.Now}
}

func (s *Store) Dir() string { return s.dir }

// Backup compresses src into the store. ok is false when src does not exist.
func (s *Store) Backup(src string) (dst string, ok bool, err error) {
	dst, ok, err = s.compress(src, savePrefix)
	if err != nil || !ok {
		return dst, ok, err
	}
	return dst, true, s.prune()
}

// Quarantine keeps a copy of an unreadable save for later inspection.
func (s *Store) Quarantine(src string) (string, error) {
	dst, _, err := s.compress(src, corruptPrefix)
	return dst, err
}

func (s *Store) compress(src, prefix string) (string, bool, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	defer in.Close()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(s.dir, prefix+s.now().UTC().Format(stampLayout)+ext)
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", false, err
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", false, err
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", false, err
	}
	if err := enc.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", false, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", false, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", false, err
	}
	return dst, true, nil
}

// List returns backups newest first.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		var prefix string
		switch {
		case strings.HasPrefix(name, savePrefix):
			prefix = savePrefix
		case strings.HasPrefix(name, corruptPrefix):
			prefix = corruptPrefix
		default:
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		taken, err := time.Parse(stampLayout, stamp)
		if err != nil {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, Info{
			Name:    name,
			Path:    filepath.Join(s.dir, name),
			Size:    fi.Size(),
			Corrupt: prefix == corruptPrefix,
			TakenAt: taken,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	return out, nil
}

// Open returns the decompressed contents of the named backup.
func (s *Store) Open(name string) ([]byte, error) {
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("backup: invalid name %q", name)
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

func (s *Store) prune() error {
	if s.keep <= 0 {
		return nil
	}
	all, err := s.List()
	if err != nil {
		return err
	}
	kept := 0
	for _, b := range all {
		if b.Corrupt {
			continue
		}
		kept++
		if kept <= s.keep {
			continue
		}
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
