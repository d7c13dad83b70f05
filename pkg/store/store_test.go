package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/willibrandon/calltrace/pkg/codec"
	"github.com/willibrandon/calltrace/pkg/trace"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "traces.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func sampleBuffer() *codec.Buffer {
	buf, err := codec.NewBuffer([]byte{1, 2, 3})
	if err != nil {
		panic(err)
	}
	return buf
}

func sampleTrace() *trace.Trace {
	b := trace.NewBuilder()
	create := b.Append(trace.Call, "Scene.createMesh", trace.CallRecord{
		Seq:  0,
		Args: []codec.Tag{codec.RefTag("Scene", 0), codec.PrimitiveTag("box")},
	})
	create.SetReturn(codec.RefTag("Mesh", 0))
	hit := b.Append(trace.Callback, "Scene.onHit", trace.CallRecord{
		Seq:  1,
		Args: []codec.Tag{codec.RefTag("Mesh", 0), codec.BufferTag(sampleBuffer())},
	})
	hit.SetReturn(codec.AbsentTag())
	return b.Build()
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	want := sampleTrace()

	id, err := store.Put(ctx, "session-1", "boot", want)
	if err != nil {
		t.Fatalf("put trace: %v", err)
	}
	if id != "session-1" {
		t.Fatalf("id = %q, want %q", id, "session-1")
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get trace: %v", err)
	}
	if got.Version != want.Version {
		t.Fatalf("version = %d, want %d", got.Version, want.Version)
	}
	create := got.Calls["Scene.createMesh"]
	if len(create) != 1 || !create[0].Ret.Equal(codec.RefTag("Mesh", 0)) {
		t.Fatalf("createMesh = %+v", create)
	}
	hit := got.Callbacks["Scene.onHit"]
	if len(hit) != 1 || !hit[0].Args[1].Equal(codec.BufferTag(sampleBuffer())) {
		t.Fatalf("onHit = %+v", hit)
	}
}

func TestPutGeneratesID(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	id, err := store.Put(context.Background(), "", "", sampleTrace())
	if err != nil {
		t.Fatalf("put trace: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	if _, err := store.Get(context.Background(), id); err != nil {
		t.Fatalf("get trace: %v", err)
	}
}

func TestPutDuplicateID(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "dup", "", sampleTrace()); err != nil {
		t.Fatalf("put trace: %v", err)
	}
	_, err := store.Put(ctx, "dup", "", sampleTrace())
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestPutRejectsInvalidTrace(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	bad := trace.New()
	bad.Version = 99
	if _, err := store.Put(context.Background(), "bad", "", bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, id := range []string{"b", "a"} {
		if _, err := store.Put(ctx, id, "run "+id, sampleTrace()); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	metas, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list traces: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len(metas) = %d, want 2", len(metas))
	}
	if metas[0].ID != "b" || metas[1].ID != "a" {
		t.Fatalf("order = %s, %s; want b, a", metas[0].ID, metas[1].ID)
	}
	m := metas[0]
	if m.Name != "run b" || m.Calls != 1 || m.Callbacks != 1 || m.Size == 0 {
		t.Fatalf("meta = %+v", m)
	}
	if !m.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("created_at = %v, want %v", m.CreatedAt, base.Add(time.Minute))
	}

	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete trace: %v", err)
	}
	if err := store.Delete(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	t.Parallel()

	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if _, err := store.Put(context.Background(), "mem", "", sampleTrace()); err != nil {
		t.Fatalf("put trace: %v", err)
	}
	metas, err := store.List(context.Background())
	if err != nil || len(metas) != 1 {
		t.Fatalf("list = %v, %v", metas, err)
	}
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Get(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
