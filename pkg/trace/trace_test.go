package trace

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/calltrace/pkg/codec"
)

func ret(t codec.Tag) *codec.Tag { return &t }

func sampleTrace(t *testing.T) *Trace {
	t.Helper()
	buf, err := codec.NewBuffer([]float32{1, 2, 3})
	require.NoError(t, err)

	b := NewBuilder()
	b.Append(Call, "Scene.createMesh", CallRecord{Seq: 0, Args: []codec.Tag{codec.PrimitiveTag("box")}, Ret: ret(codec.RefTag("Mesh", 0))})
	b.Append(Call, "Mesh.setPosition", CallRecord{Seq: 1, Args: []codec.Tag{codec.RefTag("Mesh", 0), codec.PrimitiveTag([]any{int64(1), int64(2), int64(3)})}})
	slot := b.Append(Call, "Mesh.setVertices", CallRecord{Seq: 2, Args: []codec.Tag{codec.RefTag("Mesh", 0), codec.BufferTag(buf)}})
	slot.SetReturn(codec.AbsentTag())
	b.Append(Callback, "Scene.onLoad", CallRecord{Seq: 3, Args: []codec.Tag{}, Ret: ret(codec.PrimitiveTag(nil))})
	return b.Build()
}

func assertTracesEqual(t *testing.T, want, got *Trace) {
	t.Helper()
	assert.Equal(t, want.Version, got.Version)
	for _, dir := range []Direction{Call, Callback} {
		require.Equal(t, want.Methods(dir), got.Methods(dir))
		for name, wm := range want.Stream(dir) {
			gm := got.Stream(dir)[name]
			require.Len(t, gm, len(wm), name)
			for i := range wm {
				assert.Equal(t, wm[i].Seq, gm[i].Seq)
				require.Len(t, gm[i].Args, len(wm[i].Args))
				for j := range wm[i].Args {
					assert.True(t, wm[i].Args[j].Equal(gm[i].Args[j]), "%s[%d] arg %d", name, i, j)
				}
				if wm[i].Ret == nil {
					assert.Nil(t, gm[i].Ret)
				} else {
					require.NotNil(t, gm[i].Ret, name)
					assert.True(t, wm[i].Ret.Equal(*gm[i].Ret), "%s[%d] ret", name, i)
				}
			}
		}
	}
}

func TestRoundTripAllFormats(t *testing.T) {
	tr := sampleTrace(t)
	for _, opts := range []Options{
		{Format: JSON},
		{Format: JSON, Indent: true},
		{Format: JSON, Compression: ZstdCompression},
		{Format: CBOR},
		{Format: CBOR, Compression: ZstdCompression},
	} {
		t.Run(opts.Format.String()+"/"+opts.Compression.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Save(&buf, tr, opts))
			if opts.Compression == ZstdCompression {
				assert.True(t, IsZstd(buf.Bytes()))
			}
			got, err := Load(&buf)
			require.NoError(t, err)
			assertTracesEqual(t, tr, got)
		})
	}
}

func TestJSONWireSchema(t *testing.T) {
	data, err := Marshal(sampleTrace(t), DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, ValidateJSON(data))
	assert.Contains(t, string(data), `"version":1`)
	assert.Contains(t, string(data), `{"ref":0,"kind":"Mesh"}`)
	assert.Contains(t, string(data), `"type":"float32","length":3`)
}

func TestUnknownVersionRejected(t *testing.T) {
	_, err := Unmarshal([]byte(`{"version": 2, "calls": {}, "callbacks": {}}`))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))

	_, err = Unmarshal([]byte(`{"calls": {}, "callbacks": {}}`))
	assert.Error(t, err)

	tr := New()
	tr.Version = 3
	_, err = Marshal(tr, Options{Format: CBOR})
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestSchemaRejectsUnknownTags(t *testing.T) {
	in := `{"version": 1, "calls": {"Scene.f": [{"args": [{"handle": 1}]}]}, "callbacks": {}}`
	_, err := Unmarshal([]byte(in))
	assert.Error(t, err)
}

func TestExplicitNullReturnIsKept(t *testing.T) {
	in := `{"version": 1, "calls": {"Scene.find": [{"seq": 0, "args": ["x"], "ret": null}, {"seq": 1, "args": ["y"]}]}, "callbacks": {}}`
	tr, err := Unmarshal([]byte(in))
	require.NoError(t, err)
	recs := tr.Calls["Scene.find"]
	require.Len(t, recs, 2)
	require.NotNil(t, recs[0].Ret)
	assert.Equal(t, codec.TagPrimitive, recs[0].Ret.Type)
	assert.Nil(t, recs[1].Ret)
}

func TestValidate(t *testing.T) {
	tr := New()
	tr.Calls["Scene.a"] = MethodTrace{{Seq: 2}, {Seq: 1}}
	assert.ErrorContains(t, Validate(tr), "seq 1 not after 2")

	tr = New()
	tr.Calls[""] = MethodTrace{{}}
	assert.Error(t, Validate(tr))

	tr = New()
	tr.Callbacks["Scene.b"] = MethodTrace{{Args: []codec.Tag{{Type: codec.TagRef}}}}
	assert.ErrorContains(t, Validate(tr), "reference without kind")
}

func TestBuilderBuildIsACopy(t *testing.T) {
	b := NewBuilder()
	slot := b.Append(Call, "Scene.a", CallRecord{Seq: 0, Args: []codec.Tag{codec.PrimitiveTag(int64(1))}})
	built := b.Build()
	slot.SetReturn(codec.PrimitiveTag(true))

	assert.Nil(t, built.Calls["Scene.a"][0].Ret)
	require.NotNil(t, slot.Record().Ret)
	assert.Equal(t, 1, b.Len(Call))

	b.Reset()
	assert.Equal(t, 0, b.Len(Call))
}

func TestFromEntriesOrdersBySeq(t *testing.T) {
	entries := []Entry{
		{Direction: Call, Name: "Scene.b", Record: CallRecord{Seq: 2}},
		{Direction: Call, Name: "Scene.a", Record: CallRecord{Seq: 0}},
		{Direction: Callback, Name: "Scene.onLoad", Record: CallRecord{Seq: 1}},
		{Direction: Call, Name: "Scene.a", Record: CallRecord{Seq: 3}},
	}
	tr := FromEntries(entries)
	require.Len(t, tr.Calls["Scene.a"], 2)
	assert.Equal(t, uint64(0), tr.Calls["Scene.a"][0].Seq)
	assert.Equal(t, uint64(3), tr.Calls["Scene.a"][1].Seq)
	assert.Equal(t, 3, tr.Len(Call))
	assert.Equal(t, 1, tr.Len(Callback))
}

func TestSummaryAndNames(t *testing.T) {
	tr := sampleTrace(t)
	s := tr.Summary()
	require.Len(t, s, 4)
	assert.Equal(t, MethodSummary{Name: "Scene.onLoad", Callbacks: 1}, s[3])

	typ, method := SplitName("Scene.createMesh")
	assert.Equal(t, "Scene", typ)
	assert.Equal(t, "createMesh", method)
	assert.Equal(t, "Scene.createMesh", QualifiedName(typ, method))
	assert.Equal(t, "free", QualifiedName("", "free"))
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.trace")
	tr := sampleTrace(t)
	require.NoError(t, SaveFile(path, tr, Options{Format: CBOR, Compression: ZstdCompression}))
	got, err := LoadFile(path)
	require.NoError(t, err)
	assertTracesEqual(t, tr, got)
}

func TestParseOptions(t *testing.T) {
	f, err := ParseFormat("cbor")
	require.NoError(t, err)
	assert.Equal(t, CBOR, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)

	c, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, ZstdCompression, c)

	d, err := ParseDirection("callbacks")
	require.NoError(t, err)
	assert.Equal(t, Callback, d)
}
