package watcher

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func created(path string) ChangeEvent { return ChangeEvent{ChangeType: Created, FullPath: path} }
func deleted(path string) ChangeEvent { return ChangeEvent{ChangeType: Deleted, FullPath: path} }
func changed(path string) ChangeEvent { return ChangeEvent{ChangeType: Changed, FullPath: path} }
func renamed(oldPath, path string) ChangeEvent {
	return ChangeEvent{ChangeType: Renamed, FullPath: path, OldFullPath: oldPath}
}

func testPath(parts ...string) string {
	return filepath.Join(append([]string{string(filepath.Separator), "w"}, parts...)...)
}

func TestNormalizeEmpty(t *testing.T) {
	out, err := Normalize(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNormalizeCoalescing(t *testing.T) {
	a := testPath("a.txt")
	b := testPath("b.txt")
	c := testPath("c.txt")
	dir := testPath("dir")

	cases := []struct {
		name string
		in   []ChangeEvent
		want []ChangeEvent
	}{
		{
			name: "create then delete cancels",
			in:   []ChangeEvent{created(a), deleted(a)},
			want: []ChangeEvent{},
		},
		{
			name: "delete then create becomes change",
			in:   []ChangeEvent{deleted(a), created(a)},
			want: []ChangeEvent{changed(a)},
		},
		{
			name: "change after create is dropped",
			in:   []ChangeEvent{created(a), changed(a), changed(a)},
			want: []ChangeEvent{created(a)},
		},
		{
			name: "repeated changes collapse",
			in:   []ChangeEvent{changed(a), changed(a)},
			want: []ChangeEvent{changed(a)},
		},
		{
			name: "change then delete keeps delete at first position",
			in:   []ChangeEvent{changed(a), changed(b), deleted(a)},
			want: []ChangeEvent{deleted(a), changed(b)},
		},
		{
			name: "rename of created file becomes create",
			in:   []ChangeEvent{created(a), renamed(a, b)},
			want: []ChangeEvent{created(b)},
		},
		{
			name: "chained renames collapse",
			in:   []ChangeEvent{renamed(a, b), renamed(b, c)},
			want: []ChangeEvent{renamed(a, c)},
		},
		{
			name: "created then chained renames becomes create",
			in:   []ChangeEvent{created(a), renamed(a, b), renamed(b, c)},
			want: []ChangeEvent{created(c)},
		},
		{
			name: "rename of created file over deleted target becomes change",
			in:   []ChangeEvent{deleted(b), created(a), renamed(a, b)},
			want: []ChangeEvent{changed(b)},
		},
		{
			name: "rename away and back becomes change",
			in:   []ChangeEvent{renamed(a, b), renamed(b, a)},
			want: []ChangeEvent{changed(a)},
		},
		{
			name: "rename of unrelated file is kept",
			in:   []ChangeEvent{changed(c), renamed(a, b)},
			want: []ChangeEvent{changed(c), renamed(a, b)},
		},
		{
			name: "rename chain stops at a changed source",
			in:   []ChangeEvent{changed(a), renamed(a, b)},
			want: []ChangeEvent{changed(a), renamed(a, b)},
		},
		{
			name: "nested deletes are suppressed",
			in: []ChangeEvent{
				deleted(filepath.Join(dir, "sub", "f.txt")),
				deleted(filepath.Join(dir, "sub")),
				deleted(dir),
				deleted(testPath("dir2")),
			},
			want: []ChangeEvent{deleted(dir), deleted(testPath("dir2"))},
		},
		{
			name: "sibling with shared prefix survives",
			in:   []ChangeEvent{deleted(dir), deleted(dir + "x")},
			want: []ChangeEvent{deleted(dir), deleted(dir + "x")},
		},
		{
			name: "non-delete events under deleted dir survive",
			in:   []ChangeEvent{changed(filepath.Join(dir, "f.txt")), deleted(dir)},
			want: []ChangeEvent{changed(filepath.Join(dir, "f.txt")), deleted(dir)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Normalize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	a := testPath("a")
	in := []ChangeEvent{deleted(a), created(a)}
	_, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, []ChangeEvent{deleted(a), created(a)}, in)
}

func TestNormalizeOutputIsStableUnderRenormalization(t *testing.T) {
	dir := testPath("dir")
	in := []ChangeEvent{
		created(testPath("new")),
		renamed(testPath("new"), testPath("moved")),
		deleted(filepath.Join(dir, "inner")),
		deleted(dir),
		changed(testPath("x")),
	}
	first, err := Normalize(in)
	require.NoError(t, err)
	second, err := Normalize(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizeRejectsMalformedEvents(t *testing.T) {
	cases := []struct {
		name  string
		event ChangeEvent
	}{
		{name: "rename without old path", event: ChangeEvent{ChangeType: Renamed, FullPath: testPath("a")}},
		{name: "create with old path", event: ChangeEvent{ChangeType: Created, FullPath: testPath("a"), OldFullPath: testPath("b")}},
		{name: "unknown type", event: ChangeEvent{ChangeType: ChangeType(42), FullPath: testPath("a")}},
		{name: "empty path", event: ChangeEvent{ChangeType: Changed}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Normalize([]ChangeEvent{changed(testPath("ok")), tc.event})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvariant))
			assert.Nil(t, out)
		})
	}
}

func TestResolveRenameExhaustsStepBudget(t *testing.T) {
	coalescer := newCoalescer(4)
	require.NoError(t, coalescer.add(renamed(testPath("a"), testPath("b"))))
	require.NoError(t, coalescer.add(renamed(testPath("x"), testPath("a"))))

	// b <- a <- x needs two steps.
	_, err := coalescer.resolveRename(renamed(testPath("b"), testPath("c")), false, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestResolveRenameWithinBudget(t *testing.T) {
	coalescer := newCoalescer(4)
	require.NoError(t, coalescer.add(created(testPath("a"))))
	require.NoError(t, coalescer.add(renamed(testPath("a"), testPath("b"))))
	assert.Equal(t, []ChangeEvent{created(testPath("b"))}, coalescer.survivors())
}
