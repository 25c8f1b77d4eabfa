package core

// chunks.go reassembles files that browsers send in parts.
//
// Each part is written to <Dir>/<uploadID>/<index>.part. Assemble
// concatenates the parts in index order into one spool file, removes the
// parts and hands the result to ingestion as a SourceFile whose Close
// removes the spool file as well.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const partSuffix = ".part"

// MaxChunkIndex bounds the number of parts per upload.
const MaxChunkIndex = 100_000

// ChunkStore keeps partial uploads on disk.
type ChunkStore struct {
	Dir     string
	MaxSize int64 // total bytes per assembled file, 0 = unlimited
}

// NewChunkStore creates dir if needed.
func NewChunkStore(dir string, maxSize int64) (*ChunkStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "facturas-chunks")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	return &ChunkStore{Dir: dir, MaxSize: maxSize}, nil
}

func (c *ChunkStore) uploadDir(uploadID string) (string, error) {
	id, err := uuid.Parse(uploadID)
	if err != nil || len(uploadID) != 36 {
		return "", fmt.Errorf("%w: upload id %q", ErrInvalidChunk, uploadID)
	}
	return filepath.Join(c.Dir, id.String()), nil
}

// Put stores part index of uploadID, replacing an earlier copy of the same
// part. It returns the bytes written.
func (c *ChunkStore) Put(uploadID string, index int, r io.Reader) (int64, error) {
	if index < 0 || index > MaxChunkIndex {
		return 0, fmt.Errorf("%w: index %d", ErrInvalidChunk, index)
	}
	dir, err := c.uploadDir(uploadID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "incoming-*")
	if err != nil {
		return 0, fmt.Errorf("create chunk: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if c.MaxSize > 0 {
		src = io.LimitReader(r, c.MaxSize+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write chunk: %w", err)
	}
	if c.MaxSize > 0 && n > c.MaxSize {
		return 0, ErrFileTooLarge
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, strconv.Itoa(index)+partSuffix)); err != nil {
		return 0, fmt.Errorf("store chunk: %w", err)
	}
	return n, nil
}

// Assemble joins the parts of uploadID into a spool file named after name.
// Parts must be numbered 0..n-1 without gaps.
func (c *ChunkStore) Assemble(uploadID, name string) (SourceFile, error) {
	if _, err := DelimiterFor(name); err != nil {
		return SourceFile{}, err
	}
	dir, err := c.uploadDir(uploadID)
	if err != nil {
		return SourceFile{}, err
	}

	indexes, err := partIndexes(dir)
	if err != nil {
		return SourceFile{}, err
	}
	for i, idx := range indexes {
		if idx != i {
			return SourceFile{}, fmt.Errorf("%w: part %d missing", ErrChunkNotFound, i)
		}
	}

	out, err := os.CreateTemp(c.Dir, "assembled-*"+filepath.Ext(name))
	if err != nil {
		return SourceFile{}, fmt.Errorf("create spool file: %w", err)
	}
	fail := func(err error) (SourceFile, error) {
		out.Close()
		os.Remove(out.Name())
		return SourceFile{}, err
	}

	var total int64
	for _, idx := range indexes {
		n, err := appendPart(out, filepath.Join(dir, strconv.Itoa(idx)+partSuffix))
		if err != nil {
			return fail(err)
		}
		total += n
		if c.MaxSize > 0 && total > c.MaxSize {
			return fail(ErrFileTooLarge)
		}
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind spool file: %w", err))
	}
	_ = os.RemoveAll(dir)

	return SourceFile{
		Name:   filepath.Base(name),
		Size:   total,
		Reader: &SpoolFile{File: out},
	}, nil
}

// Discard drops every part of uploadID.
func (c *ChunkStore) Discard(uploadID string) error {
	dir, err := c.uploadDir(uploadID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func partIndexes(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	var indexes []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), partSuffix)
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		indexes = append(indexes, idx)
	}
	if len(indexes) == 0 {
		return nil, ErrChunkNotFound
	}
	slices.Sort(indexes)
	return indexes, nil
}

func appendPart(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open chunk: %w", err)
	}
	defer f.Close()
	n, err := io.Copy(dst, f)
	if err != nil {
		return n, fmt.Errorf("copy chunk: %w", err)
	}
	return n, nil
}

// SpoolFile is a temporary file removed when closed.
type SpoolFile struct {
	*os.File
}

// NewSpoolFile copies r into a temporary file in dir, at most limit bytes
// (0 = unlimited), and returns it rewound.
func NewSpoolFile(dir string, r io.Reader, limit int64) (*SpoolFile, int64, error) {
	f, err := os.CreateTemp(dir, "spool-*")
	if err != nil {
		return nil, 0, fmt.Errorf("create spool file: %w", err)
	}
	sf := &SpoolFile{File: f}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		sf.Close()
		return nil, 0, fmt.Errorf("spool upload: %w", err)
	}
	if limit > 0 && n > limit {
		sf.Close()
		return nil, 0, ErrFileTooLarge
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		sf.Close()
		return nil, 0, fmt.Errorf("rewind spool file: %w", err)
	}
	return sf, n, nil
}

// Close closes and removes the file.
func (s *SpoolFile) Close() error {
	err := s.File.Close()
	if rerr := os.Remove(s.File.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}
