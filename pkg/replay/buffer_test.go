package replay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/calltrace/pkg/codec"
	"github.com/willibrandon/calltrace/pkg/trace"
)

func newBuffer(tr *trace.Trace) *Buffer {
	return NewBuffer(tr, codec.New(newSet()), nil)
}

func TestBufferStateMachine(t *testing.T) {
	b := trace.NewBuilder()
	b.Append(trace.Call, "Scene.a", trace.CallRecord{Seq: 0})
	b.Append(trace.Call, "Scene.b", trace.CallRecord{Seq: 1})
	buf := newBuffer(b.Build())

	assert.Equal(t, Idle, buf.State())
	assert.Equal(t, -1, buf.Position())
	_, ok := buf.Current()
	assert.False(t, ok)

	require.True(t, buf.Continue())
	assert.Equal(t, Running, buf.State())
	step, ok := buf.Current()
	require.True(t, ok)
	assert.Equal(t, "Scene.a", step.Name)

	require.True(t, buf.Continue())
	assert.False(t, buf.Ended())

	assert.False(t, buf.Continue())
	assert.True(t, buf.Ended())
	assert.Equal(t, 2, buf.Position())

	for i := 0; i < 3; i++ {
		assert.False(t, buf.Continue())
	}
	assert.Equal(t, Ended, buf.State())
	assert.Equal(t, 2, buf.Position())
}

func TestEmptyBufferEndsOnFirstContinue(t *testing.T) {
	buf := newBuffer(trace.New())
	assert.False(t, buf.Continue())
	assert.True(t, buf.Ended())
	assert.Equal(t, 0, buf.Len())
}

func TestOrderWithAndWithoutSeq(t *testing.T) {
	tr := trace.New()
	tr.Calls["Scene.b"] = trace.MethodTrace{{Seq: 0}, {Seq: 3}}
	tr.Calls["Scene.a"] = trace.MethodTrace{{Seq: 1}, {Seq: 2}}
	var names []string
	for _, s := range Order(tr) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Scene.b", "Scene.a", "Scene.a", "Scene.b"}, names)

	// Traces without sequence numbers replay method by method
	tr = trace.New()
	tr.Calls["Scene.b"] = trace.MethodTrace{{}, {}}
	tr.Calls["Scene.a"] = trace.MethodTrace{{}}
	steps := Order(tr)
	require.Len(t, steps, 3)
	assert.Equal(t, "Scene.a", steps[0].Name)
	assert.Equal(t, 0, steps[1].Ordinal)
	assert.Equal(t, 1, steps[2].Ordinal)
	assert.Equal(t, 2, steps[2].Index)
	assert.Equal(t, "Scene", steps[2].Type)
	assert.Equal(t, "b", steps[2].Method)
}

func TestCallbackOrdering(t *testing.T) {
	b := trace.NewBuilder()
	b.Append(trace.Callback, "Scene.onHit", trace.CallRecord{Seq: 0, Args: []codec.Tag{codec.PrimitiveTag("a")}})
	b.Append(trace.Callback, "Scene.onHit", trace.CallRecord{Seq: 1, Args: []codec.Tag{codec.PrimitiveTag("b")}})
	buf := newBuffer(b.Build())

	rec, err := buf.MarkCallbackAsReplayed("Scene.onHit", []any{"b"})
	require.NotNil(t, rec)
	assert.Equal(t, uint64(1), rec.Seq)
	var ov *OrderViolationError
	require.True(t, errors.As(err, &ov))
	assert.Equal(t, 1, ov.Matched)
	assert.Equal(t, 0, ov.Expected)

	// "a" is now the earliest pending entry
	rec, err = buf.MarkCallbackAsReplayed("Scene.onHit", []any{"a"})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Seq)

	_, err = buf.MarkCallbackAsReplayed("Scene.onHit", []any{"a"})
	var unexpected *UnexpectedCallbackError
	assert.True(t, errors.As(err, &unexpected))

	_, err = buf.MarkCallbackAsReplayed("Scene.onMiss", nil)
	assert.True(t, errors.Is(err, ErrDivergence))

	report := buf.Report()
	assert.True(t, report.Degraded)
	assert.Len(t, report.Divergences, 3)
	assert.Empty(t, report.Unconsumed)
}

func TestCallbackInOrderKeepsSessionClean(t *testing.T) {
	b := trace.NewBuilder()
	b.Append(trace.Callback, "Scene.onHit", trace.CallRecord{Seq: 0, Args: []codec.Tag{codec.PrimitiveTag(int64(1))}})
	b.Append(trace.Callback, "Scene.onHit", trace.CallRecord{Seq: 1, Args: []codec.Tag{codec.PrimitiveTag(int64(2))}})
	buf := newBuffer(b.Build())

	for _, v := range []int{1, 2} {
		_, err := buf.MarkCallbackAsReplayed("Scene.onHit", []any{v})
		require.NoError(t, err)
	}
	assert.False(t, buf.Degraded())
}

func TestCallbackBindsUnseenObjects(t *testing.T) {
	b := trace.NewBuilder()
	b.Append(trace.Callback, "Scene.onMeshAdded", trace.CallRecord{Seq: 4, Args: []codec.Tag{codec.RefTag("Mesh", 5)}})
	buf := newBuffer(b.Build())

	m := &mesh{shape: "box"}
	_, err := buf.MarkCallbackAsReplayed("Scene.onMeshAdded", []any{m})
	require.NoError(t, err)

	meshes, err := buf.codec.Set().Tracker("Mesh")
	require.NoError(t, err)
	assert.Same(t, m, meshes.ObjectFor(5))

	// An object of another kind never matches a mesh reference
	b = trace.NewBuilder()
	b.Append(trace.Callback, "Scene.onMeshAdded", trace.CallRecord{Seq: 0, Args: []codec.Tag{codec.RefTag("Mesh", 5)}})
	buf = newBuffer(b.Build())
	_, err = buf.MarkCallbackAsReplayed("Scene.onMeshAdded", []any{&scene{}})
	assert.True(t, errors.Is(err, ErrDivergence))
}

func TestCallbackNeverBindsPlainValues(t *testing.T) {
	for _, arg := range []any{42, "mesh", []float32{1, 2}, []any{int64(5)}} {
		b := trace.NewBuilder()
		b.Append(trace.Callback, "Mesh.onLoad", trace.CallRecord{Seq: 0, Args: []codec.Tag{codec.RefTag("Mesh", 5)}})
		buf := newBuffer(b.Build())

		_, err := buf.MarkCallbackAsReplayed("Mesh.onLoad", []any{arg})
		assert.True(t, errors.Is(err, ErrDivergence), "%T", arg)

		meshes, err := buf.codec.Set().Tracker("Mesh")
		require.NoError(t, err)
		assert.Nil(t, meshes.ObjectFor(5), "%T", arg)
		assert.Len(t, buf.Report().Unconsumed, 1)
	}
}

func TestLooseEndsResolveEarliestFirst(t *testing.T) {
	b := trace.NewBuilder()
	b.Append(trace.Call, "Scene.load", trace.CallRecord{Seq: 0})
	b.Append(trace.Callback, "Scene.onLoad", trace.CallRecord{Seq: 1, Args: []codec.Tag{}})
	buf := newBuffer(b.Build())

	require.True(t, buf.Continue())
	var order []string
	first := buf.RegisterLooseEndCallback("Scene.onLoad", func(le *LooseEnd) { order = append(order, "first") })
	second := buf.RegisterLooseEndCallback("Scene.onLoad", func(le *LooseEnd) { order = append(order, "second") })

	_, err := buf.MarkCallbackAsReplayed("Scene.onLoad", nil)
	require.NoError(t, err)
	assert.False(t, first.Open())
	assert.True(t, first.Resolved)
	require.NotNil(t, first.Record)
	assert.Equal(t, uint64(1), first.Record.Seq)
	assert.True(t, second.Open())

	assert.False(t, buf.Continue())
	assert.False(t, second.Resolved)
	assert.Equal(t, []string{"first", "second"}, order)

	late := buf.RegisterLooseEndCallback("Scene.onLoad", nil)
	assert.False(t, late.Open())
	assert.Len(t, buf.Report().Unresolved, 2)
}
