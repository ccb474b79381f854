package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	snapshotExt   = ".json"
	indexFileName = "_index.json"
)

// NewStore 以 root 为根目录构建快照存储；fsys 可以是 OsFs 或测试用的 MemMapFs。
func NewStore(fsys afero.Fs, root string) (Store, error) {
	if fsys == nil {
		return nil, errors.New("cache filesystem required")
	}
	if root == "" {
		return nil, errors.New("cache dir required")
	}
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &fileStore{
		fs:    fsys,
		root:  root,
		locks: make(map[string]*entryLock),
	}, nil
}

// NewDiskStore 构建基于本地磁盘的存储，root 会被转换为绝对路径。
func NewDiskStore(root string) (Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	return NewStore(afero.NewOsFs(), abs)
}

// fileStore 通过 entryLock 避免同一条目并发写入。
type fileStore struct {
	fs   afero.Fs
	root string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, ns Namespace, id string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.path(ns, id)
	if err != nil {
		return err
	}

	info, err := s.fs.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if info.IsDir() {
		return ErrNotFound
	}

	data, err := afero.ReadFile(s.fs, filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", ns, id, err)
	}
	return nil
}

func (s *fileStore) Put(ctx context.Context, ns Namespace, id string, v any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	filePath, err := s.path(ns, id)
	if err != nil {
		return 0, err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode %s/%s: %w", ns, id, err)
	}

	unlock := s.lockEntry(ns, id)
	defer unlock()

	if err := writeFileAtomic(s.fs, filePath, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (s *fileStore) Delete(ctx context.Context, ns Namespace, id string) error {
	filePath, err := s.path(ns, id)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(ns, id)
	defer unlock()

	if err := s.fs.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Exists(ctx context.Context, ns Namespace, id string) bool {
	filePath, err := s.path(ns, id)
	if err != nil {
		return false
	}
	f, err := s.fs.Open(filePath)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && !info.IsDir()
}

func (s *fileStore) List(ctx context.Context, ns Namespace) ([]string, error) {
	if err := ns.validate(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, filepath.Join(s.root, string(ns)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, snapshotExt))
	}
	return ids, nil
}

func (s *fileStore) lockEntry(ns Namespace, id string) func() {
	key := string(ns) + "::" + id
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) path(ns Namespace, id string) (string, error) {
	if err := ns.validate(); err != nil {
		return "", err
	}
	key, err := NormalizeID(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, string(ns), key+snapshotExt), nil
}

// NormalizeID 把内容 ID 转为文件名安全的键。UUID（带或不带连字符）统一为
// 标准带连字符的小写形式；其它 ID 只允许字母、数字和连字符，且不能以连字符开头。
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidID
	}
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String(), nil
	}
	if strings.HasPrefix(id, "-") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return id, nil
}

// writeFileAtomic 先写入同目录的临时文件再 rename，失败时清理临时文件。
func writeFileAtomic(fsys afero.Fs, filePath string, data []byte) error {
	dir := filepath.Dir(filePath)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := afero.TempFile(fsys, dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = fsys.Remove(tempName)
		return err
	}

	if err := fsys.Rename(tempName, filePath); err != nil {
		_ = fsys.Remove(tempName)
		return err
	}
	return nil
}
