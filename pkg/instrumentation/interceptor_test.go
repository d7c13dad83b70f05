package instrumentation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/calltrace/pkg/codec"
	"github.com/willibrandon/calltrace/pkg/recorder"
	"github.com/willibrandon/calltrace/pkg/tracker"
)

type scene struct{ meshes []*mesh }

type mesh struct{ shape string }

func newInterceptor(opts Options) *Interceptor {
	set := tracker.NewSet(tracker.WithStack(nil))
	set.Register("Scene", (*scene)(nil))
	set.Register("Mesh", (*mesh)(nil))
	return NewInterceptorWithOptions(recorder.New(set), opts)
}

func TestInterceptorRecordsCallAndReturn(t *testing.T) {
	i := newInterceptor(DefaultOptions())
	s := &scene{}

	m, err := Invoke(i, "Scene", "createMesh", []any{s, "box"}, func() (*mesh, error) {
		m := &mesh{shape: "box"}
		s.meshes = append(s.meshes, m)
		return m, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "box", m.shape)

	err = i.CallVoid("Mesh", "setVisible", []any{m, false}, func() error { return nil })
	require.NoError(t, err)

	tr := i.Recorder().Trace()
	create := tr.Calls["Scene.createMesh"]
	require.Len(t, create, 1)
	require.NotNil(t, create[0].Ret)
	assert.True(t, create[0].Ret.Equal(codec.RefTag("Mesh", 0)))

	visible := tr.Calls["Mesh.setVisible"]
	require.Len(t, visible, 1)
	assert.Equal(t, uint64(1), visible[0].Seq)
	assert.Equal(t, codec.TagAbsent, visible[0].Ret.Type)
}

func TestInterceptorFailedCallHasNoReturn(t *testing.T) {
	i := newInterceptor(DefaultOptions())
	boom := errors.New("boom")

	_, err := i.Call("Scene", "load", []any{&scene{}, "missing.glb"}, func() (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	load := i.Recorder().Trace().Calls["Scene.load"]
	require.Len(t, load, 1)
	assert.Equal(t, codec.TagAbsent, load[0].Ret.Type)
}

func TestInterceptorBlocksUseAfterDestroy(t *testing.T) {
	i := newInterceptor(DefaultOptions())
	SetDefault(i)
	defer SetDefault(nil)

	s := &scene{}
	m, err := Invoke(i, "Scene", "createMesh", []any{s}, func() (*mesh, error) {
		return &mesh{shape: "box"}, nil
	})
	require.NoError(t, err)
	require.NoError(t, Destroyed("Mesh", m, "scene cleared"))

	called := false
	err = i.CallVoid("Mesh", "setVisible", []any{m, true}, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, tracker.ErrUseAfterDestroy)
	assert.False(t, called, "runtime must not be reached with a destroyed object")
	assert.Empty(t, i.Recorder().Trace().Calls["Mesh.setVisible"])
}

func TestInterceptorCallbackNesting(t *testing.T) {
	i := newInterceptor(DefaultOptions())
	s := &scene{}

	_, err := i.Call("Scene", "update", []any{s, 0.016}, func() (any, error) {
		return i.Callback("Scene", "onFrame", []any{s}, func() (any, error) {
			return "ok", nil
		})
	})
	require.NoError(t, err)

	tr := i.Recorder().Trace()
	assert.Equal(t, uint64(0), tr.Calls["Scene.update"][0].Seq)
	assert.Equal(t, uint64(1), tr.Callbacks["Scene.onFrame"][0].Seq)
	assert.True(t, tr.Calls["Scene.update"][0].Ret.Equal(codec.PrimitiveTag("ok")))
}

func TestInterceptorSkipsExcludedTypes(t *testing.T) {
	opts := DefaultOptions()
	opts.ExcludeTypes = []string{"Scene.update"}
	i := newInterceptor(opts)

	ret, err := i.Call("Scene", "update", []any{&scene{}, 0.016}, func() (any, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ret)
	assert.Equal(t, uint64(0), i.Recorder().Count())
}

func TestDestroyedWithoutDefault(t *testing.T) {
	SetDefault(nil)
	assert.NoError(t, Destroyed("Mesh", &mesh{}, ""))
}
