package envtrack

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// refNamespace is the prefix under which session snapshot refs are
// stored. Each session owns refs/tinker/<sessionID>, so histories of
// distinct sessions never collide.
const refNamespace = "refs/tinker/"

const (
	snapshotAuthorName  = "tinker"
	snapshotAuthorEmail = "tinker@localhost"
)

// GitEnvironment is the durable Environment. Snapshots are commit nodes
// created directly in the object store, on a ref private to the session;
// neither HEAD, the index, nor any branch is touched.
type GitEnvironment struct {
	repo    *git.Repository
	root    string
	session string
	parent  plumbing.Hash
}

// Open locates the git repository containing dir. It fails with a
// StorageError when dir is not inside a repository.
func Open(dir string) (*GitEnvironment, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &StorageError{Op: "resolve directory", Err: err}
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, &StorageError{Op: fmt.Sprintf("open repository at %s", abs), Err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, &StorageError{Op: "resolve worktree", Err: err}
	}

	return &GitEnvironment{
		repo: repo,
		root: wt.Filesystem.Root(),
	}, nil
}

// Root returns the worktree root directory.
func (e *GitEnvironment) Root() string { return e.root }

// Begin activates the environment for a session. If the session already
// has snapshots, new ones chain onto its history.
func (e *GitEnvironment) Begin(sessionID string) error {
	if sessionID == "" {
		return &StorageError{Op: "begin session", Err: fmt.Errorf("empty session id")}
	}
	e.session = sessionID
	e.parent = plumbing.ZeroHash

	ref, err := e.repo.Reference(plumbing.ReferenceName(refNamespace+sessionID), true)
	if err == nil {
		e.parent = ref.Hash()
	}
	return nil
}

// End deactivates the environment.
func (e *GitEnvironment) End() error {
	e.session = ""
	e.parent = plumbing.ZeroHash
	return nil
}

// MakeSnapshot captures every tool-accessible file in the worktree,
// tracked and untracked alike, as a commit on the session ref, labeled
// with message.
func (e *GitEnvironment) MakeSnapshot(message string) (Ref, error) {
	if e.session == "" {
		return NoRef, &StorageError{Op: "make snapshot", Err: fmt.Errorf("no active session")}
	}

	treeHash, err := e.writeWorktree()
	if err != nil {
		return NoRef, &StorageError{Op: "snapshot worktree", Err: err}
	}

	sig := object.Signature{
		Name:  snapshotAuthorName,
		Email: snapshotAuthorEmail,
		When:  time.Now(),
	}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  treeHash,
	}
	if e.parent != plumbing.ZeroHash {
		commit.ParentHashes = []plumbing.Hash{e.parent}
	}

	obj := e.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return NoRef, &StorageError{Op: "encode commit", Err: err}
	}
	hash, err := e.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return NoRef, &StorageError{Op: "store commit", Err: err}
	}

	refName := plumbing.ReferenceName(refNamespace + e.session)
	if err := e.repo.Storer.SetReference(plumbing.NewHashReference(refName, hash)); err != nil {
		return NoRef, &StorageError{Op: "update session ref", Err: err}
	}

	e.parent = hash
	return Ref(e.session + "/" + hash.String()), nil
}

// Restore checks out the snapshot identified by ref: every file in the
// snapshot is written back and every tool-accessible file not in the
// snapshot is removed.
func (e *GitEnvironment) Restore(ref Ref) error {
	hash, err := parseRef(ref)
	if err != nil {
		return &StorageError{Op: "parse ref", Err: err}
	}

	commit, err := object.GetCommit(e.repo.Storer, hash)
	if err != nil {
		return &StorageError{Op: fmt.Sprintf("load snapshot %s", hash), Err: err}
	}
	tree, err := commit.Tree()
	if err != nil {
		return &StorageError{Op: "load snapshot tree", Err: err}
	}

	// Collect the snapshot's files before touching the worktree.
	type snapshotFile struct {
		mode filemode.FileMode
		data []byte
	}
	files := make(map[string]snapshotFile)
	err = tree.Files().ForEach(func(f *object.File) error {
		r, err := f.Reader()
		if err != nil {
			return err
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		files[f.Name] = snapshotFile{mode: f.Mode, data: data}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "read snapshot tree", Err: err}
	}

	matcher, err := e.ignoreMatcher()
	if err != nil {
		return &StorageError{Op: "load ignore rules", Err: err}
	}

	// Remove files that do not exist in the snapshot.
	var emptied []string
	err = e.walkWorktree(matcher, func(rel string, d fs.DirEntry) error {
		if d.IsDir() {
			emptied = append(emptied, rel)
			return nil
		}
		if _, ok := files[rel]; !ok {
			return os.Remove(filepath.Join(e.root, rel))
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "prune worktree", Err: err}
	}

	// Prune directories bottom-up; Remove fails on non-empty ones, which
	// is the desired behavior.
	sort.Sort(sort.Reverse(sort.StringSlice(emptied)))
	for _, rel := range emptied {
		_ = os.Remove(filepath.Join(e.root, rel))
	}

	// Write the snapshot's files back out.
	for rel, f := range files {
		full := filepath.Join(e.root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return &StorageError{Op: fmt.Sprintf("restore %s", rel), Err: err}
		}
		if f.mode == filemode.Symlink {
			_ = os.Remove(full)
			if err := os.Symlink(string(f.data), full); err != nil {
				return &StorageError{Op: fmt.Sprintf("restore symlink %s", rel), Err: err}
			}
			continue
		}
		perm := os.FileMode(0o644)
		if f.mode == filemode.Executable {
			perm = 0o755
		}
		if err := os.WriteFile(full, f.data, perm); err != nil {
			return &StorageError{Op: fmt.Sprintf("restore %s", rel), Err: err}
		}
		if err := os.Chmod(full, perm); err != nil {
			return &StorageError{Op: fmt.Sprintf("restore mode of %s", rel), Err: err}
		}
	}

	return nil
}

// parseRef splits a "<session>/<hash>" snapshot reference.
func parseRef(ref Ref) (plumbing.Hash, error) {
	s := string(ref)
	idx := strings.LastIndex(s, "/")
	if idx < 0 || idx == len(s)-1 {
		return plumbing.ZeroHash, fmt.Errorf("malformed snapshot ref %q", ref)
	}
	hex := s[idx+1:]
	if len(hex) != 40 {
		return plumbing.ZeroHash, fmt.Errorf("malformed snapshot hash %q", hex)
	}
	return plumbing.NewHash(hex), nil
}

// ignoreMatcher builds a gitignore matcher for the worktree. The .git
// directory is always excluded by the walker.
func (e *GitEnvironment) ignoreMatcher() (gitignore.Matcher, error) {
	wt, err := e.repo.Worktree()
	if err != nil {
		return nil, err
	}
	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		return nil, err
	}
	return gitignore.NewMatcher(patterns), nil
}

// walkWorktree visits every non-ignored entry under the root, excluding
// the .git directory. rel uses forward slashes.
func (e *GitEnvironment) walkWorktree(matcher gitignore.Matcher, visit func(rel string, d fs.DirEntry) error) error {
	return filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == e.root {
			return nil
		}
		rel, err := filepath.Rel(e.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		segments := strings.Split(rel, "/")

		if d.IsDir() {
			if d.Name() == git.GitDirName || matcher.Match(segments, true) {
				return filepath.SkipDir
			}
		} else if matcher.Match(segments, false) {
			return nil
		}
		return visit(rel, d)
	})
}

// writeWorktree hashes every non-ignored worktree file into the object
// store and returns the hash of the resulting root tree.
func (e *GitEnvironment) writeWorktree() (plumbing.Hash, error) {
	matcher, err := e.ignoreMatcher()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	type blobEntry struct {
		mode filemode.FileMode
		hash plumbing.Hash
	}
	blobs := make(map[string]blobEntry)

	err = e.walkWorktree(matcher, func(rel string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		full := filepath.Join(e.root, rel)

		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(full)
			if err != nil {
				return err
			}
			hash, err := e.writeBlob([]byte(target))
			if err != nil {
				return err
			}
			blobs[rel] = blobEntry{mode: filemode.Symlink, hash: hash}
			return nil
		}
		if !d.Type().IsRegular() {
			// Sockets, devices and the like are not snapshotable.
			return nil
		}

		data, err := os.ReadFile(full)
		if err != nil {
			return err
		}
		hash, err := e.writeBlob(data)
		if err != nil {
			return err
		}
		mode := filemode.Regular
		if info, err := d.Info(); err == nil && info.Mode()&0o111 != 0 {
			mode = filemode.Executable
		}
		blobs[rel] = blobEntry{mode: mode, hash: hash}
		return nil
	})
	if err != nil {
		return plumbing.ZeroHash, err
	}

	// Assemble nested tree objects from the flat path map.
	type dirNode struct {
		entries map[string]object.TreeEntry // leaf files
		subdirs map[string]*dirNode
	}
	newNode := func() *dirNode {
		return &dirNode{
			entries: make(map[string]object.TreeEntry),
			subdirs: make(map[string]*dirNode),
		}
	}
	root := newNode()
	for rel, blob := range blobs {
		parts := strings.Split(rel, "/")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node.subdirs[part]
			if !ok {
				child = newNode()
				node.subdirs[part] = child
			}
			node = child
		}
		name := parts[len(parts)-1]
		node.entries[name] = object.TreeEntry{Name: name, Mode: blob.mode, Hash: blob.hash}
	}

	var writeTree func(node *dirNode) (plumbing.Hash, error)
	writeTree = func(node *dirNode) (plumbing.Hash, error) {
		entries := make([]object.TreeEntry, 0, len(node.entries)+len(node.subdirs))
		for _, entry := range node.entries {
			entries = append(entries, entry)
		}
		for name, child := range node.subdirs {
			hash, err := writeTree(child)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
		}
		sortTreeEntries(entries)

		tree := &object.Tree{Entries: entries}
		obj := e.repo.Storer.NewEncodedObject()
		if err := tree.Encode(obj); err != nil {
			return plumbing.ZeroHash, err
		}
		return e.repo.Storer.SetEncodedObject(obj)
	}

	return writeTree(root)
}

// writeBlob stores data as a blob object and returns its hash.
func (e *GitEnvironment) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := e.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return e.repo.Storer.SetEncodedObject(obj)
}

// sortTreeEntries orders entries the way git requires: byte order, with
// directory names compared as if they had a trailing slash.
func sortTreeEntries(entries []object.TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return treeEntrySortName(entries[i]) < treeEntrySortName(entries[j])
	})
}

func treeEntrySortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}
