package backend

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/xplor-dev/xplor/internal/protocol"
)

// opError is a filesystem failure already classified with a wire error code.
type opError struct {
	code string
	msg  string
}

func (e *opError) Error() string { return e.msg }

func invalidPath(msg string) error {
	return &opError{code: protocol.CodeInvalidPath, msg: msg}
}

// skipRoots are top-level directories excluded from recursive walks.
var skipRoots = map[string]bool{
	"dev":        true,
	"proc":       true,
	"sys":        true,
	"run":        true,
	"snap":       true,
	"boot":       true,
	"lost+found": true,
}

// shouldSkip reports whether a path sits under an excluded top-level
// directory. Extracts the first component after "/" for one map lookup.
func shouldSkip(path string) bool {
	if len(path) < 2 || path[0] != '/' {
		return false
	}
	rest := path[1:]
	if i := strings.IndexByte(rest, '/'); i != -1 {
		rest = rest[:i]
	}
	return skipRoots[rest]
}

// List reads the direct children of path. Unreadable entries are skipped,
// not fatal.
func List(ctx context.Context, path string) ([]protocol.Entry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	var result []protocol.Entry
	var mu sync.Mutex

	conf := &fastwalk.Config{
		Follow: true, // follow symlinks to report target info
	}
	pathLen := len(path)

	err := fastwalk.Walk(conf, path, func(fullPath string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if fullPath == path {
			return nil
		}

		// Direct children only. fullPath starts with path, so the remainder
		// containing a separator means a nested entry.
		relStart := pathLen
		if relStart < len(fullPath) && (fullPath[relStart] == '/' || fullPath[relStart] == '\\') {
			relStart++
		}
		if strings.ContainsAny(fullPath[relStart:], "/\\") {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		info, err := fastwalk.StatDirEntry(fullPath, d)
		if err != nil {
			// Broken symlink: fall back to lstat so the entry still shows.
			info, err = os.Lstat(fullPath)
			if err != nil {
				return nil
			}
		}

		mu.Lock()
		result = append(result, protocol.Entry{
			Name:    d.Name(),
			Path:    fullPath,
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		mu.Unlock()

		if d.IsDir() {
			return fastwalk.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Info stats one path.
func Info(path string) (protocol.Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return protocol.Entry{}, err
	}
	return protocol.Entry{
		Name:    filepath.Base(path),
		Path:    path,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Mkdir creates a directory, parents included.
func Mkdir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// Rename gives path a new base name inside its directory and returns the
// resulting path. Refuses a newName containing separators.
func Rename(path, newName string) (string, error) {
	if newName == "" || strings.ContainsAny(newName, "/\\") {
		return "", invalidPath("invalid name: " + newName)
	}
	dest := filepath.Join(filepath.Dir(path), newName)
	if _, err := os.Lstat(dest); err == nil {
		return "", &opError{code: protocol.CodeFileExists, msg: "already exists: " + dest}
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// WriteFile writes content to path, creating or truncating it.
func WriteFile(path string, content []byte) error {
	return os.WriteFile(path, content, 0o644)
}

// Delete removes each path recursively. A missing path is not an error.
func Delete(paths []string) error {
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return nil
}

// checkDestination refuses a destination equal to a source or inside one.
func checkDestination(sources []string, destDir string) error {
	dest := filepath.Clean(destDir)
	for _, src := range sources {
		src = filepath.Clean(src)
		if dest == src {
			return invalidPath("destination equals source: " + src)
		}
		rel, err := filepath.Rel(src, dest)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return invalidPath("destination inside source: " + src)
		}
	}
	return nil
}

// Copy copies each source into destDir, directories recursively.
func Copy(ctx context.Context, sources []string, destDir string) error {
	if err := checkDestination(sources, destDir); err != nil {
		return err
	}
	for _, src := range sources {
		if err := copyTree(ctx, src, filepath.Join(destDir, filepath.Base(src))); err != nil {
			return err
		}
	}
	return nil
}

func copyTree(ctx context.Context, src, dest string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dest)
	case info.IsDir():
		if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(ctx, filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())); err != nil {
				return err
			}
		}
		return nil
	default:
		return copyFile(src, dest, info.Mode().Perm())
	}
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}

// Move moves each source into destDir. Rename first; on a cross-device
// failure fall back to copy then delete.
func Move(ctx context.Context, sources []string, destDir string) error {
	if err := checkDestination(sources, destDir); err != nil {
		return err
	}
	for _, src := range sources {
		dest := filepath.Join(destDir, filepath.Base(src))
		if err := os.Rename(src, dest); err == nil {
			continue
		} else if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return err
		}
		if err := copyTree(ctx, src, dest); err != nil {
			return err
		}
		if err := os.RemoveAll(src); err != nil {
			return err
		}
	}
	return nil
}

// FolderSize totals the regular-file bytes under path. Long walks honor
// cancellation.
func FolderSize(ctx context.Context, path string) (int64, error) {
	var total int64
	var mu sync.Mutex

	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, path, func(fullPath string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		mu.Lock()
		total += info.Size()
		mu.Unlock()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Search walks under basePath matching entry names against query, either a
// glob pattern or a case-insensitive substring. Depth 1 unless recursive;
// recursive walks stop at maxDepth and never follow symlinks.
func Search(ctx context.Context, basePath, query string, recursive bool, maxDepth int) ([]protocol.Entry, error) {
	if query == "" {
		return List(ctx, basePath)
	}
	depth := 1
	if recursive {
		depth = maxDepth
		if depth <= 0 {
			depth = 8
		}
	}
	match := nameMatcher(query)

	var results []protocol.Entry
	var mu sync.Mutex

	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, basePath, func(fullPath string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if fullPath == basePath {
			return nil
		}
		if shouldSkip(fullPath) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		if fastwalk.DirEntryDepth(d) > depth {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		info, err := fastwalk.StatDirEntry(fullPath, d)
		if err != nil {
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		if match(d.Name()) {
			mu.Lock()
			results = append(results, protocol.Entry{
				Name:    d.Name(),
				Path:    fullPath,
				IsDir:   info.IsDir(),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func nameMatcher(query string) func(string) bool {
	q := strings.ToLower(query)
	if strings.ContainsAny(q, "*?[") {
		return func(name string) bool {
			ok, err := filepath.Match(q, strings.ToLower(name))
			return err == nil && ok
		}
	}
	return func(name string) bool {
		return strings.Contains(strings.ToLower(name), q)
	}
}
