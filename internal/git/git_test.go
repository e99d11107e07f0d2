package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// initBareRepo creates a bare-like local repo with an initial commit on the given branch.
func initBareRepo(t *testing.T, dir, branch string) {
	t.Helper()
	cmds := [][]string{
		{"git", "init", "-b", branch, dir},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		if out, err := exec.Command(args[0], args[1:]...).CombinedOutput(); err != nil {
			t.Fatalf("%v: %s", err, out)
		}
	}
}

// runGit runs a git command inside dir and fails the test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return string(out)
}

// writeFile creates or overwrites a file below dir, creating parents.
func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// commitFile creates or overwrites a file and commits it.
func commitFile(t *testing.T, repoDir, content, msg string) {
	t.Helper()
	const name = "index.php"
	writeFile(t, repoDir, name, content)
	runGit(t, repoDir, "add", name)
	runGit(t, repoDir, "commit", "-m", msg)
}

func TestEnsureCheckout_UpdatesLocalBranch(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	initBareRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "version1\n", "Initial commit")

	cloneDir := filepath.Join(t.TempDir(), "repo")
	client := NewShellClient("", "")
	commit1, err := client.EnsureCheckout(ctx, remoteDir, "main", cloneDir)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(cloneDir, "index.php"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "version1\n" {
		t.Fatalf("expected version1, got %q", string(got))
	}

	commitFile(t, remoteDir, "version2\n", "Update")

	commit2, err := client.EnsureCheckout(ctx, remoteDir, "main", cloneDir)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if commit1 == commit2 {
		t.Error("expected different commit after update, but got the same")
	}

	got, err = os.ReadFile(filepath.Join(cloneDir, "index.php"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "version2\n" {
		t.Errorf("expected version2 after update, got %q", string(got))
	}
}

func TestEnsureCheckout_TagsStillWork(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	initBareRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "tagged\n", "Tagged commit")
	runGit(t, remoteDir, "tag", "v1.0")
	commitFile(t, remoteDir, "after-tag\n", "Post-tag commit")

	cloneDir := filepath.Join(t.TempDir(), "repo")
	client := NewShellClient("", "")
	if _, err := client.EnsureCheckout(ctx, remoteDir, "v1.0", cloneDir); err != nil {
		t.Fatalf("tag checkout: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(cloneDir, "index.php"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "tagged\n" {
		t.Errorf("expected tagged content, got %q", string(got))
	}
}

// historyRepo builds a repository with two commits: the first adds
// a.txt, b.txt and c.txt; the second modifies a.txt, deletes b.txt, renames
// c.txt to sub/d.txt and adds e.txt. It returns the repository directory
// and the first commit hash.
func historyRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	initBareRepo(t, dir, "main")

	writeFile(t, dir, "a.txt", "alpha\n")
	writeFile(t, dir, "b.txt", "bravo bravo bravo\n")
	writeFile(t, dir, "c.txt", "charlie is a file that will be renamed later on\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "first")
	first := runGit(t, dir, "rev-parse", "HEAD")

	writeFile(t, dir, "a.txt", "alpha, modified\n")
	runGit(t, dir, "rm", "-q", "b.txt")
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "mv", "c.txt", "sub/d.txt")
	writeFile(t, dir, "e.txt", "0123456789\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "second")

	return dir, first[:len(first)-1]
}

func historyBackends() map[string]History {
	return map[string]History{
		"shell":  NewShellClient("", ""),
		"go-git": NewGoGitClient(),
	}
}

func TestHistory_Diff(t *testing.T) {
	dir, first := historyRepo(t)

	want := []Change{
		{Kind: Modified, Path: "a.txt"},
		{Kind: Deleted, Path: "b.txt"},
		{Kind: Added, Path: "e.txt"},
		{Kind: Renamed, Path: "sub/d.txt", OldPath: "c.txt"},
	}

	for name, h := range historyBackends() {
		t.Run(name, func(t *testing.T) {
			got, err := h.Diff(context.Background(), dir, first)
			if err != nil {
				t.Fatalf("Diff: %v", err)
			}
			sort.Slice(got, func(i, j int) bool { return got[i].Path < got[j].Path })
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHistory_CurrentRevisionAndListFiles(t *testing.T) {
	dir, _ := historyRepo(t)
	head := runGit(t, dir, "rev-parse", "HEAD")
	head = head[:len(head)-1]

	for name, h := range historyBackends() {
		t.Run(name, func(t *testing.T) {
			rev, err := h.CurrentRevision(context.Background(), dir)
			if err != nil {
				t.Fatalf("CurrentRevision: %v", err)
			}
			if rev != head {
				t.Errorf("CurrentRevision = %q, want %q", rev, head)
			}

			files, err := h.ListFiles(context.Background(), dir)
			if err != nil {
				t.Fatalf("ListFiles: %v", err)
			}
			sort.Strings(files)
			if diff := cmp.Diff([]string{"a.txt", "e.txt", "sub/d.txt"}, files); diff != "" {
				t.Errorf("ListFiles() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHistory_NotARepository(t *testing.T) {
	dir := t.TempDir()
	for name, h := range historyBackends() {
		t.Run(name, func(t *testing.T) {
			_, err := h.CurrentRevision(context.Background(), dir)
			if !errors.Is(err, ErrNotRepository) {
				t.Errorf("expected ErrNotRepository, got %v", err)
			}
		})
	}
}

func TestHistory_UnknownBaseline(t *testing.T) {
	dir, _ := historyRepo(t)
	for name, h := range historyBackends() {
		t.Run(name, func(t *testing.T) {
			if _, err := h.Diff(context.Background(), dir, "0123456789abcdef0123456789abcdef01234567"); err == nil {
				t.Error("expected error for unknown baseline revision")
			}
		})
	}
}

func TestParseNameStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Change
		wantErr bool
	}{
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "all kinds",
			input: "M\x00a.txt\x00A\x00new file.txt\x00D\x00old.txt\x00R087\x00from.txt\x00to.txt\x00",
			want: []Change{
				{Kind: Modified, Path: "a.txt"},
				{Kind: Added, Path: "new file.txt"},
				{Kind: Deleted, Path: "old.txt"},
				{Kind: Renamed, Path: "to.txt", OldPath: "from.txt"},
			},
		},
		{
			name:  "copy, type change and unmerged",
			input: "C100\x00src.txt\x00copy.txt\x00T\x00link\x00U\x00conflict.txt\x00",
			want: []Change{
				{Kind: Added, Path: "copy.txt"},
				{Kind: Modified, Path: "link"},
				{Kind: Modified, Path: "conflict.txt"},
			},
		},
		{
			name:    "rename missing destination",
			input:   "R100\x00from.txt\x00",
			wantErr: true,
		},
		{
			name:    "status without path",
			input:   "M\x00",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNameStatus(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseNameStatus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseNameStatus() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple path", input: "/home/user/.ssh/key", want: "'/home/user/.ssh/key'"},
		{name: "path with spaces", input: "/home/my user/key", want: "'/home/my user/key'"},
		{name: "path with single quote", input: "/home/user's/key", want: "'/home/user'\\''s/key'"},
		{name: "empty string", input: "", want: "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shellQuote(tt.input)
			if got != tt.want {
				t.Errorf("shellQuote(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestInsertGitFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		flags []string
		want  []string
	}{
		{
			name:  "insert before subcommand",
			args:  []string{"git", "clone", "--no-checkout", "url", "dest"},
			flags: []string{"-c", "key=value"},
			want:  []string{"git", "-c", "key=value", "clone", "--no-checkout", "url", "dest"},
		},
		{
			name:  "insert before fetch",
			args:  []string{"git", "-C", "/dir", "fetch", "origin"},
			flags: []string{"-c", "cred=helper"},
			want:  []string{"git", "-c", "cred=helper", "-C", "/dir", "fetch", "origin"},
		},
		{
			name:  "empty args",
			args:  []string{},
			flags: []string{"-c", "key=value"},
			want:  []string{"-c", "key=value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := insertGitFlags(tt.args, tt.flags...)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("insertGitFlags() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
