package capability

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// scratchBinder returns the binder for module:scratch. Each execution gets
// its own handle on the directory, opened lazily and released with the scope.
func scratchBinder(opts Options) Binder {
	limit := opts.ScratchMaxBytes
	if limit <= 0 {
		limit = DefaultScratchMaxBytes
	}
	dir := opts.ScratchDir
	return func(scope *Scope) (starlark.Value, error) {
		s := &scratch{dir: dir, limit: limit}
		scope.OnClose(s.close)
		return &starlarkstruct.Module{
			Name: "scratch",
			Members: starlark.StringDict{
				"read":   starlark.NewBuiltin("scratch.read", s.read),
				"write":  starlark.NewBuiltin("scratch.write", s.write),
				"list":   starlark.NewBuiltin("scratch.list", s.list),
				"remove": starlark.NewBuiltin("scratch.remove", s.remove),
			},
		}, nil
	}
}

type scratch struct {
	dir   string
	limit int64

	mu      sync.Mutex
	root    *os.Root
	written int64
}

func (s *scratch) open() (*os.Root, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root != nil {
		return s.root, nil
	}
	if s.dir == "" {
		return nil, errors.New("no scratch directory configured")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, errors.New("scratch directory unavailable")
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, errors.New("scratch directory unavailable")
	}
	s.root = root
	return root, nil
}

func (s *scratch) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return nil
	}
	err := s.root.Close()
	s.root = nil
	return err
}

// pathError strips the host directory from errors so fragments only ever see
// the relative name they passed in.
func pathError(op, name string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return fmt.Errorf("%s: %s: %v", op, name, err)
}

func (s *scratch) read(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	root, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	f, err := root.Open(name)
	if err != nil {
		return nil, pathError(b.Name(), name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.limit+1))
	if err != nil {
		return nil, pathError(b.Name(), name, err)
	}
	if int64(len(data)) > s.limit {
		return nil, fmt.Errorf("%s: %s: file exceeds %d bytes", b.Name(), name, s.limit)
	}
	return starlark.String(data), nil
}

func (s *scratch) write(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, content string
	var appendMode bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "content", &content, "append?", &appendMode); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.written+int64(len(content)) > s.limit {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: write quota of %d bytes exceeded", b.Name(), s.limit)
	}
	s.written += int64(len(content))
	s.mu.Unlock()

	root, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := root.OpenFile(name, flags, 0o600)
	if err != nil {
		return nil, pathError(b.Name(), name, err)
	}
	n, err := io.WriteString(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, pathError(b.Name(), name, err)
	}
	return starlark.MakeInt(n), nil
}

func (s *scratch) list(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	dir := "."
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "dir?", &dir); err != nil {
		return nil, err
	}
	root, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	entries, err := fs.ReadDir(root.FS(), dir)
	if err != nil {
		return nil, pathError(b.Name(), dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]starlark.Value, len(names))
	for i, n := range names {
		out[i] = starlark.String(n)
	}
	return starlark.NewList(out), nil
}

func (s *scratch) remove(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	root, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := root.Remove(name); err != nil {
		return nil, pathError(b.Name(), name, err)
	}
	return starlark.None, nil
}
