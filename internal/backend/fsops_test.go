package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/xplor-dev/xplor/internal/protocol"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func names(entries []protocol.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	sort.Strings(out)
	return out
}

func TestListDirectChildrenOnly(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.txt"), "a")
	mustWrite(t, filepath.Join(dir, "sub", "nested.txt"), "n")

	entries, err := List(context.Background(), dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := names(entries)
	want := []string{"a.txt", "sub"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("List: got %v, want %v", got, want)
	}
	for _, e := range entries {
		if e.Name == "sub" && !e.IsDir {
			t.Error("sub must be reported as a directory")
		}
	}
}

func TestListMissingPath(t *testing.T) {
	if _, err := List(context.Background(), filepath.Join(t.TempDir(), "gone")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("List on missing path: got %v, want ErrNotExist", err)
	}
}

func TestInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	mustWrite(t, path, "12345")

	entry, err := Info(path)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if entry.Name != "f.bin" || entry.Size != 5 || entry.IsDir {
		t.Errorf("Info: %+v", entry)
	}
}

func TestRenameRefusals(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.txt")
	mustWrite(t, src, "x")
	mustWrite(t, filepath.Join(dir, "taken.txt"), "y")

	var oe *opError
	if _, err := Rename(src, "a/b"); !errors.As(err, &oe) || oe.code != protocol.CodeInvalidPath {
		t.Errorf("separator in name: got %v, want INVALID_PATH", err)
	}
	if _, err := Rename(src, ""); err == nil {
		t.Error("empty name must be refused")
	}
	if _, err := Rename(src, "taken.txt"); !errors.As(err, &oe) || oe.code != protocol.CodeFileExists {
		t.Errorf("existing name: got %v, want FILE_EXISTS", err)
	}

	dest, err := Rename(src, "new.txt")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if dest != filepath.Join(dir, "new.txt") {
		t.Errorf("Rename dest: %q", dest)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
}

func TestCheckDestination(t *testing.T) {
	cases := []struct {
		sources []string
		dest    string
		wantErr bool
	}{
		{[]string{"/a/b"}, "/a/c", false},
		{[]string{"/a/b"}, "/a/b", true},
		{[]string{"/a/b"}, "/a/b/deep", true},
		{[]string{"/a/bc"}, "/a/b", false},
	}
	for _, tc := range cases {
		err := checkDestination(tc.sources, tc.dest)
		if tc.wantErr {
			var oe *opError
			if !errors.As(err, &oe) || oe.code != protocol.CodeInvalidPath {
				t.Errorf("checkDestination(%v, %q): got %v, want INVALID_PATH", tc.sources, tc.dest, err)
			}
		} else if err != nil {
			t.Errorf("checkDestination(%v, %q): unexpected %v", tc.sources, tc.dest, err)
		}
	}
}

func TestCopyTreePreservesStructure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tree")
	mustWrite(t, filepath.Join(src, "f1.txt"), "one")
	mustWrite(t, filepath.Join(src, "inner", "f2.txt"), "two")
	dest := filepath.Join(dir, "out")
	if err := os.Mkdir(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := Copy(context.Background(), []string{src}, dest); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "tree", "inner", "f2.txt"))
	if err != nil || string(got) != "two" {
		t.Errorf("copied file: %q, %v", got, err)
	}
	// Source is untouched.
	if _, err := os.Stat(filepath.Join(src, "f1.txt")); err != nil {
		t.Errorf("source missing after copy: %v", err)
	}
}

func TestMoveIntoDescendantRefused(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "parent")
	mustWrite(t, filepath.Join(src, "f.txt"), "x")

	err := Move(context.Background(), []string{src}, filepath.Join(src, "child"))
	var oe *opError
	if !errors.As(err, &oe) || oe.code != protocol.CodeInvalidPath {
		t.Fatalf("Move into descendant: got %v, want INVALID_PATH", err)
	}
	if _, err := os.Stat(filepath.Join(src, "f.txt")); err != nil {
		t.Errorf("refused move must leave source intact: %v", err)
	}
}

func TestMoveRelocates(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "m.txt")
	mustWrite(t, src, "payload")
	dest := filepath.Join(dir, "target")
	if err := os.Mkdir(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := Move(context.Background(), []string{src}, dest); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Error("source must be gone after a move")
	}
	got, err := os.ReadFile(filepath.Join(dest, "m.txt"))
	if err != nil || string(got) != "payload" {
		t.Errorf("moved file: %q, %v", got, err)
	}
}

func TestFolderSize(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a"), "1234")
	mustWrite(t, filepath.Join(dir, "sub", "b"), "56789")

	size, err := FolderSize(context.Background(), dir)
	if err != nil {
		t.Fatalf("FolderSize: %v", err)
	}
	if size != 9 {
		t.Errorf("size: got %d, want 9", size)
	}
}

func TestFolderSizeHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := FolderSize(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Errorf("FolderSize with cancelled ctx: got %v, want context.Canceled", err)
	}
}

func TestSearchSubstringAndGlob(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "Report.pdf"), "")
	mustWrite(t, filepath.Join(dir, "notes.txt"), "")
	mustWrite(t, filepath.Join(dir, "deep", "report-old.pdf"), "")

	// Case-insensitive substring, recursive.
	entries, err := Search(context.Background(), dir, "report", true, 8)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := names(entries); len(got) != 2 {
		t.Errorf("substring search: %v", got)
	}

	// Glob matches whole names only.
	entries, err = Search(context.Background(), dir, "*.txt", true, 8)
	if err != nil {
		t.Fatalf("Search glob: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "notes.txt" {
		t.Errorf("glob search: %v", names(entries))
	}

	// Non-recursive stays at depth one.
	entries, err = Search(context.Background(), dir, "report", false, 8)
	if err != nil {
		t.Fatalf("Search shallow: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "Report.pdf" {
		t.Errorf("shallow search: %v", names(entries))
	}
}

func TestSearchEmptyQueryLists(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "only.txt"), "")

	entries, err := Search(context.Background(), dir, "", true, 8)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "only.txt" {
		t.Errorf("empty query: %v", names(entries))
	}
}

func TestShouldSkipPath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/proc", true},
		{"/proc/1234/fd", true},
		{"/sys/devices", true},
		{"/home/user", false},
		{"/procfile", false},
		{"relative/proc", false},
		{"/", false},
	}
	for _, tc := range cases {
		if got := shouldSkip(tc.path); got != tc.want {
			t.Errorf("shouldSkip(%q): got %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestDeleteIgnoresMissing(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "here.txt")
	mustWrite(t, present, "x")

	if err := Delete([]string{present, filepath.Join(dir, "gone.txt")}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(present); !errors.Is(err, os.ErrNotExist) {
		t.Error("present path must be removed")
	}
}
