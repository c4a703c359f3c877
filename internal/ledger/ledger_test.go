package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(InMemory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestInvocations(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	id, err := l.StartInvocation(ctx, "build")
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	inv, err := l.Invocation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "build", inv.Command)
	assert.Equal(t, "running", inv.Outcome)
	assert.True(t, inv.FinishedAt.IsZero())

	require.NoError(t, l.FinishInvocation(ctx, id, "success"))
	inv, err = l.Invocation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "success", inv.Outcome)
	assert.False(t, inv.FinishedAt.IsZero())

	_, err = l.Invocation(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, l.FinishInvocation(ctx, "nope", "failed"), ErrNotFound)
}

func TestFetches(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	id, err := l.StartInvocation(ctx, "fetch")
	require.NoError(t, err)

	require.NoError(t, l.RecordFetch(ctx, id, FetchRecord{External: "zlib", Kind: "http_archive", Digest: "abc", Verified: true}))
	require.NoError(t, l.RecordFetch(ctx, id, FetchRecord{External: "protos", Kind: "git_repository", Digest: "def", Verified: true, Cached: true}))
	require.NoError(t, l.RecordFetch(ctx, "other", FetchRecord{External: "x", Kind: "http_archive", Digest: "0"}))

	got, err := l.Fetches(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "zlib", got[0].External)
	assert.True(t, got[0].Verified)
	assert.False(t, got[0].Cached)
	assert.Equal(t, "protos", got[1].External)
	assert.True(t, got[1].Cached)
}

func TestActions(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	_, err := l.LookupAction(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, l.RecordAction(ctx, ActionRecord{Key: "k1", Label: "//a:lib", Kind: "go_library", OutputPath: "/out/a", OutputDigest: "d1"}))
	rec, err := l.LookupAction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "//a:lib", rec.Label)
	assert.Equal(t, "d1", rec.OutputDigest)

	require.NoError(t, l.RecordAction(ctx, ActionRecord{Key: "k1", Label: "//a:lib", Kind: "go_library", OutputPath: "/out/a", OutputDigest: "d2"}))
	rec, err = l.LookupAction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "d2", rec.OutputDigest)

	require.NoError(t, l.ForgetAction(ctx, "k1"))
	_, err = l.LookupAction(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActions_ExtraFiles(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	rec := ActionRecord{
		Key: "img", Label: "//app:image", Kind: "image", OutputPath: "/out/app/image.image.json", OutputDigest: "cfg",
		Extra: []ActionFile{{Path: "/out/app/image.layer.tar", Digest: "layer"}},
	}
	require.NoError(t, l.RecordAction(ctx, rec))
	got, err := l.LookupAction(ctx, "img")
	require.NoError(t, err)
	assert.Equal(t, rec.Extra, got.Extra)

	rec.Extra = nil
	require.NoError(t, l.RecordAction(ctx, rec))
	got, err = l.LookupAction(ctx, "img")
	require.NoError(t, err)
	assert.Empty(t, got.Extra, "re-recording replaces the previous file list")

	rec.Extra = []ActionFile{{Path: "/out/app/image.layer.tar", Digest: "layer2"}}
	require.NoError(t, l.RecordAction(ctx, rec))
	require.NoError(t, l.ForgetAction(ctx, "img"))
	require.NoError(t, l.RecordAction(ctx, ActionRecord{Key: "img", Label: "//app:image", Kind: "image", OutputPath: "/o", OutputDigest: "d"}))
	got, err = l.LookupAction(ctx, "img")
	require.NoError(t, err)
	assert.Empty(t, got.Extra, "forgetting an action drops its files")
}

func TestOpen_PersistsToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.RecordAction(ctx, ActionRecord{Key: "k", Label: "//:x", Kind: "filegroup", OutputPath: "p", OutputDigest: "d"}))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	rec, err := l.LookupAction(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "//:x", rec.Label)
}
