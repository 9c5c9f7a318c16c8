package pipeline

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmesh/pipelinecore/internal/customnodes"
	"github.com/modelmesh/pipelinecore/internal/nodelib"
	"github.com/modelmesh/pipelinecore/pkg/dag"
	"github.com/modelmesh/pipelinecore/pkg/definition"
	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

type mapLibraryResolver map[string]nodelib.Library

func (r mapLibraryResolver) Resolve(path string) (nodelib.Library, error) {
	lib, ok := r[path]
	if !ok {
		return nil, assert.AnError
	}
	return lib, nil
}

func encodeFloats(values []float32) []byte {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		bits := math.Float32bits(v)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeFloats(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func floatTensorFor(t *testing.T, values []float32) *tensor.Tensor {
	t.Helper()
	tv, err := tensor.New(tensor.FP32, []int64{int64(len(values))}, encodeFloats(values), nil)
	require.NoError(t, err)
	return tv
}

func floatsOf(t *testing.T, tv *tensor.Tensor) []float32 {
	t.Helper()
	return decodeFloats(tv.Data)
}

func TestAddSubEndToEnd(t *testing.T) {
	libs := mapLibraryResolver{"add_sub.so": customnodes.AddSub{}}
	nodes := []definition.NodeInfo{
		{Name: "entry", Kind: dag.KindEntry, OutputAliasMap: map[string]string{"input_numbers": "input_numbers"}},
		{
			Name: "addsub", Kind: dag.KindCustom,
			InputAliases:   []string{customnodes.AddSubInputAlias},
			OutputAliasMap: map[string]string{customnodes.AddSubOutputAlias: customnodes.AddSubOutputAlias},
			LibraryPath:    "add_sub.so",
			Params:         []nodelib.Param{{Key: "add", Value: "2.5"}, {Key: "sub", Value: "4.8"}},
		},
		{Name: "exit", Kind: dag.KindExit, InputAliases: []string{customnodes.AddSubOutputAlias}},
	}
	connections := definition.Connections{
		"addsub": {{SourceNode: "entry", SourceAlias: "input_numbers", DestNode: "addsub", DestAlias: customnodes.AddSubInputAlias}},
		"exit":   {{SourceNode: "addsub", SourceAlias: customnodes.AddSubOutputAlias, DestNode: "exit", DestAlias: customnodes.AddSubOutputAlias}},
	}
	def := definition.New("addsub-pipeline", nodes, connections, []string{"input_numbers"}, []string{customnodes.AddSubOutputAlias}, nil, libs)
	require.NoError(t, def.Validate(context.Background()))

	p, err := New(def, Options{})
	require.NoError(t, err)

	entry := dag.EntryBinding{"input_numbers": floatTensorFor(t, []float32{3.2, 5.7, -2.4})}
	exit, st := p.Run(context.Background(), entry)
	require.True(t, st.Ok(), "status: %v", st)

	got := floatsOf(t, exit[customnodes.AddSubOutputAlias])
	want := []float32{0.9, 3.4, -4.7}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 0.001)
	}
}

func TestDemultiplexGatherEndToEnd(t *testing.T) {
	libs := mapLibraryResolver{
		"different_ops.so": customnodes.DifferentOps{},
		"choose_max.so":    customnodes.ChooseMax{},
	}
	provider := dag.NewDummyModelProvider("increment")

	nodes := []definition.NodeInfo{
		{Name: "entry", Kind: dag.KindEntry, OutputAliasMap: map[string]string{"input_numbers": "input_numbers"}},
		{
			Name: "demux", Kind: dag.KindCustom,
			InputAliases:    []string{customnodes.DifferentOpsInputAlias},
			OutputAliasMap:  map[string]string{customnodes.DifferentOpsOutputAlias: customnodes.DifferentOpsOutputAlias},
			LibraryPath:     "different_ops.so",
			Params:          []nodelib.Param{{Key: "factors", Value: "1,3,2,2"}},
			DemultiplyCount: customnodes.DifferentOpsDemultiplyCount,
		},
		{
			Name: "increment", Kind: dag.KindDL,
			InputAliases:   []string{"x"},
			OutputAliasMap: map[string]string{"x": "x"},
			ModelName:      "increment",
		},
		{
			Name: "gather", Kind: dag.KindCustom,
			InputAliases:   []string{customnodes.ChooseMaxInputAlias},
			OutputAliasMap: map[string]string{customnodes.ChooseMaxOutputAlias: customnodes.ChooseMaxOutputAlias},
			LibraryPath:    "choose_max.so",
			Params:         []nodelib.Param{{Key: "selection_criteria", Value: customnodes.SelectionCriteriaMaximumMinimum}},
			GatherFromNode: "demux",
		},
		{Name: "exit", Kind: dag.KindExit, InputAliases: []string{customnodes.ChooseMaxOutputAlias}},
	}
	connections := definition.Connections{
		"demux":     {{SourceNode: "entry", SourceAlias: "input_numbers", DestNode: "demux", DestAlias: customnodes.DifferentOpsInputAlias}},
		"increment": {{SourceNode: "demux", SourceAlias: customnodes.DifferentOpsOutputAlias, DestNode: "increment", DestAlias: "x"}},
		"gather":    {{SourceNode: "increment", SourceAlias: "x", DestNode: "gather", DestAlias: customnodes.ChooseMaxInputAlias}},
		"exit":      {{SourceNode: "gather", SourceAlias: customnodes.ChooseMaxOutputAlias, DestNode: "exit", DestAlias: customnodes.ChooseMaxOutputAlias}},
	}
	def := definition.New("demux-pipeline", nodes, connections, []string{"input_numbers"}, []string{customnodes.ChooseMaxOutputAlias}, provider, libs)
	require.NoError(t, def.Validate(context.Background()))

	p, err := New(def, Options{})
	require.NoError(t, err)

	input := []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	entry := dag.EntryBinding{"input_numbers": floatTensorFor(t, input)}
	exit, st := p.Run(context.Background(), entry)
	require.True(t, st.Ok(), "status: %v", st)

	factors := []float32{1, 3, 2, 2}
	ops := []func(v, f float32) float32{
		func(v, f float32) float32 { return v + f },
		func(v, f float32) float32 { return v - f },
		func(v, f float32) float32 { return v * f },
		func(v, f float32) float32 { return v / f },
	}
	got := floatsOf(t, exit[customnodes.ChooseMaxOutputAlias])
	require.Len(t, got, 10)
	// MAXIMUM_MINIMUM over 4 rows of 10 columns: the aggregate is each
	// row's minimum across all 10 columns, and the row with the largest
	// such minimum is selected wholesale.
	row0 := make([]float32, 10)
	row1 := make([]float32, 10)
	row2 := make([]float32, 10)
	row3 := make([]float32, 10)
	for col, v := range input {
		row0[col] = ops[0](v, factors[0]) + 1
		row1[col] = ops[1](v, factors[1]) + 1
		row2[col] = ops[2](v, factors[2]) + 1
		row3[col] = ops[3](v, factors[3]) + 1
	}
	rows := [][]float32{row0, row1, row2, row3}
	minOf := func(r []float32) float32 {
		m := r[0]
		for _, x := range r[1:] {
			if x < m {
				m = x
			}
		}
		return m
	}
	bestRow := 0
	bestMin := minOf(rows[0])
	for i := 1; i < 4; i++ {
		if m := minOf(rows[i]); m > bestMin {
			bestMin = m
			bestRow = i
		}
	}
	for i := range got {
		assert.InDelta(t, rows[bestRow][i], got[i], 0.001)
	}
}

func TestDemultiplexerRejectsStaticShardCountMismatch(t *testing.T) {
	libs := mapLibraryResolver{
		"different_ops.so": customnodes.DifferentOps{},
		"choose_max.so":    customnodes.ChooseMax{},
	}
	nodes := []definition.NodeInfo{
		{Name: "entry", Kind: dag.KindEntry, OutputAliasMap: map[string]string{"input_numbers": "input_numbers"}},
		{
			Name: "demux", Kind: dag.KindCustom,
			InputAliases:    []string{customnodes.DifferentOpsInputAlias},
			OutputAliasMap:  map[string]string{customnodes.DifferentOpsOutputAlias: customnodes.DifferentOpsOutputAlias},
			LibraryPath:     "different_ops.so",
			Params:          []nodelib.Param{{Key: "factors", Value: "1,3,2,2"}},
			DemultiplyCount: customnodes.DifferentOpsDemultiplyCount + 1, // declares one more shard than "factors" actually produces
		},
		{
			Name: "gather", Kind: dag.KindCustom,
			InputAliases:   []string{customnodes.ChooseMaxInputAlias},
			OutputAliasMap: map[string]string{customnodes.ChooseMaxOutputAlias: customnodes.ChooseMaxOutputAlias},
			LibraryPath:    "choose_max.so",
			Params:         []nodelib.Param{{Key: "selection_criteria", Value: customnodes.SelectionCriteriaMaximumMinimum}},
			GatherFromNode: "demux",
		},
		{Name: "exit", Kind: dag.KindExit, InputAliases: []string{customnodes.ChooseMaxOutputAlias}},
	}
	connections := definition.Connections{
		"demux":  {{SourceNode: "entry", SourceAlias: "input_numbers", DestNode: "demux", DestAlias: customnodes.DifferentOpsInputAlias}},
		"gather": {{SourceNode: "demux", SourceAlias: customnodes.DifferentOpsOutputAlias, DestNode: "gather", DestAlias: customnodes.ChooseMaxInputAlias}},
		"exit":   {{SourceNode: "gather", SourceAlias: customnodes.ChooseMaxOutputAlias, DestNode: "exit", DestAlias: customnodes.ChooseMaxOutputAlias}},
	}
	def := definition.New("demux-shard-mismatch-pipeline", nodes, connections, []string{"input_numbers"}, []string{customnodes.ChooseMaxOutputAlias}, nil, libs)
	require.NoError(t, def.Validate(context.Background()))

	p, err := New(def, Options{})
	require.NoError(t, err)

	entry := dag.EntryBinding{"input_numbers": floatTensorFor(t, []float32{0, 1, 2, 3})}
	_, st := p.Run(context.Background(), entry)
	require.False(t, st.Ok())
	assert.Equal(t, status.DemultiplexerShardCountMismatch, st.Code)
}

func TestChainedAddSubHundredNodesEndToEnd(t *testing.T) {
	const n = 100
	libs := mapLibraryResolver{"add_sub.so": customnodes.AddSub{}}
	nodeName := func(i int) string { return fmt.Sprintf("addsub_%d", i) }

	nodes := []definition.NodeInfo{
		{Name: "entry", Kind: dag.KindEntry, OutputAliasMap: map[string]string{"input_numbers": "input_numbers"}},
	}
	for i := 1; i <= n; i++ {
		nodes = append(nodes, definition.NodeInfo{
			Name: nodeName(i), Kind: dag.KindCustom,
			InputAliases:   []string{customnodes.AddSubInputAlias},
			OutputAliasMap: map[string]string{customnodes.AddSubOutputAlias: customnodes.AddSubOutputAlias},
			LibraryPath:    "add_sub.so",
			Params:         []nodelib.Param{{Key: "add", Value: "1"}, {Key: "sub", Value: "0"}},
		})
	}
	nodes = append(nodes, definition.NodeInfo{Name: "exit", Kind: dag.KindExit, InputAliases: []string{customnodes.AddSubOutputAlias}})

	connections := definition.Connections{
		nodeName(1): {{SourceNode: "entry", SourceAlias: "input_numbers", DestNode: nodeName(1), DestAlias: customnodes.AddSubInputAlias}},
	}
	for i := 1; i < n; i++ {
		connections[nodeName(i+1)] = []dag.Edge{{SourceNode: nodeName(i), SourceAlias: customnodes.AddSubOutputAlias, DestNode: nodeName(i + 1), DestAlias: customnodes.AddSubInputAlias}}
	}
	connections["exit"] = []dag.Edge{{SourceNode: nodeName(n), SourceAlias: customnodes.AddSubOutputAlias, DestNode: "exit", DestAlias: customnodes.AddSubOutputAlias}}

	def := definition.New("chained-addsub-pipeline", nodes, connections, []string{"input_numbers"}, []string{customnodes.AddSubOutputAlias}, nil, libs)
	require.NoError(t, def.Validate(context.Background()))

	p, err := New(def, Options{})
	require.NoError(t, err)

	entry := dag.EntryBinding{"input_numbers": floatTensorFor(t, []float32{0, 10, -5})}
	exit, st := p.Run(context.Background(), entry)
	require.True(t, st.Ok(), "status: %v", st)

	got := floatsOf(t, exit[customnodes.AddSubOutputAlias])
	want := []float32{float32(n), 10 + float32(n), -5 + float32(n)}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 0.001)
	}
}

func TestParallelAddSubTwoHundredNodesEndToEnd(t *testing.T) {
	const n = 200
	libs := mapLibraryResolver{"add_sub.so": customnodes.AddSub{}}
	nodeName := func(i int) string { return fmt.Sprintf("addsub_%d", i) }
	outAlias := func(i int) string { return fmt.Sprintf("out_%d", i) }

	nodes := []definition.NodeInfo{
		{Name: "entry", Kind: dag.KindEntry, OutputAliasMap: map[string]string{"input_numbers": "input_numbers"}},
	}
	connections := definition.Connections{}
	exitAliases := make([]string, n)
	for i := 1; i <= n; i++ {
		nodes = append(nodes, definition.NodeInfo{
			Name: nodeName(i), Kind: dag.KindCustom,
			InputAliases:   []string{customnodes.AddSubInputAlias},
			OutputAliasMap: map[string]string{customnodes.AddSubOutputAlias: outAlias(i)},
			LibraryPath:    "add_sub.so",
			Params:         []nodelib.Param{{Key: "add", Value: fmt.Sprintf("%d", i)}, {Key: "sub", Value: "0"}},
		})
		connections[nodeName(i)] = []dag.Edge{{SourceNode: "entry", SourceAlias: "input_numbers", DestNode: nodeName(i), DestAlias: customnodes.AddSubInputAlias}}
		exitAliases[i-1] = outAlias(i)
	}
	nodes = append(nodes, definition.NodeInfo{Name: "exit", Kind: dag.KindExit, InputAliases: exitAliases})

	exitEdges := make([]dag.Edge, n)
	for i := 1; i <= n; i++ {
		exitEdges[i-1] = dag.Edge{SourceNode: nodeName(i), SourceAlias: outAlias(i), DestNode: "exit", DestAlias: outAlias(i)}
	}
	connections["exit"] = exitEdges

	def := definition.New("parallel-addsub-pipeline", nodes, connections, []string{"input_numbers"}, exitAliases, nil, libs)
	require.NoError(t, def.Validate(context.Background()))

	p, err := New(def, Options{MaxParallel: 64})
	require.NoError(t, err)

	entry := dag.EntryBinding{"input_numbers": floatTensorFor(t, []float32{10})}
	exit, st := p.Run(context.Background(), entry)
	require.True(t, st.Ok(), "status: %v", st)

	for i := 1; i <= n; i++ {
		got := floatsOf(t, exit[outAlias(i)])
		require.Len(t, got, 1)
		assert.InDelta(t, 10+float32(i), got[0], 0.001)
	}
}

func TestCustomDLCustomChainEndToEnd(t *testing.T) {
	libs := mapLibraryResolver{"add_sub.so": customnodes.AddSub{}}
	provider := dag.NewDummyModelProvider("increment")

	nodes := []definition.NodeInfo{
		{Name: "entry", Kind: dag.KindEntry, OutputAliasMap: map[string]string{"input_numbers": "input_numbers"}},
		{
			Name: "addsub1", Kind: dag.KindCustom,
			InputAliases:   []string{customnodes.AddSubInputAlias},
			OutputAliasMap: map[string]string{customnodes.AddSubOutputAlias: customnodes.AddSubOutputAlias},
			LibraryPath:    "add_sub.so",
			Params:         []nodelib.Param{{Key: "add", Value: "5"}, {Key: "sub", Value: "0"}},
		},
		{
			Name: "increment", Kind: dag.KindDL,
			InputAliases:   []string{"x"},
			OutputAliasMap: map[string]string{"x": "x"},
			ModelName:      "increment",
		},
		{
			Name: "addsub2", Kind: dag.KindCustom,
			InputAliases:   []string{customnodes.AddSubInputAlias},
			OutputAliasMap: map[string]string{customnodes.AddSubOutputAlias: customnodes.AddSubOutputAlias},
			LibraryPath:    "add_sub.so",
			Params:         []nodelib.Param{{Key: "add", Value: "0"}, {Key: "sub", Value: "3"}},
		},
		{Name: "exit", Kind: dag.KindExit, InputAliases: []string{customnodes.AddSubOutputAlias}},
	}
	connections := definition.Connections{
		"addsub1":   {{SourceNode: "entry", SourceAlias: "input_numbers", DestNode: "addsub1", DestAlias: customnodes.AddSubInputAlias}},
		"increment": {{SourceNode: "addsub1", SourceAlias: customnodes.AddSubOutputAlias, DestNode: "increment", DestAlias: "x"}},
		"addsub2":   {{SourceNode: "increment", SourceAlias: "x", DestNode: "addsub2", DestAlias: customnodes.AddSubInputAlias}},
		"exit":      {{SourceNode: "addsub2", SourceAlias: customnodes.AddSubOutputAlias, DestNode: "exit", DestAlias: customnodes.AddSubOutputAlias}},
	}
	def := definition.New("custom-dl-custom-pipeline", nodes, connections, []string{"input_numbers"}, []string{customnodes.AddSubOutputAlias}, provider, libs)
	require.NoError(t, def.Validate(context.Background()))

	p, err := New(def, Options{})
	require.NoError(t, err)

	entry := dag.EntryBinding{"input_numbers": floatTensorFor(t, []float32{2, -1})}
	exit, st := p.Run(context.Background(), entry)
	require.True(t, st.Ok(), "status: %v", st)

	got := floatsOf(t, exit[customnodes.AddSubOutputAlias])
	want := []float32{5, 2} // 2+5+1-3=5, -1+5+1-3=2
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 0.001)
	}
}

// splitLibrary, sumLibrary and addOneLibrary are a tiny, test-local
// demultiplex/gather pair used to exercise nested demultiplex regions
// without the combinatorial blowup of nesting the reference
// DifferentOps library (branching factor 4) ten layers deep. split
// tiles its single-element input into k identical rows; sum folds a
// gathered [k,1] tensor back down to one element.
type splitLibrary struct{ k int }

func (s splitLibrary) Name() string { return "split" }
func (s splitLibrary) GetInputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) {
	return nil, nil
}
func (s splitLibrary) GetOutputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) {
	return nil, nil
}

func (s splitLibrary) Execute(inputs []nodelib.NamedTensor, params []nodelib.Param) (*nodelib.ExecuteResult, error) {
	in, err := findNamed(inputs, "in")
	if err != nil {
		return nil, err
	}
	v := decodeFloats(in.Data)[0]
	rows := make([]float32, s.k)
	for i := range rows {
		rows[i] = v
	}
	out, err := tensor.New(tensor.FP32, []int64{int64(s.k), 1}, encodeFloats(rows), nil)
	if err != nil {
		return nil, err
	}
	return nodelib.NewExecuteResult([]nodelib.NamedTensor{{Name: "out", Tensor: out}}), nil
}

type sumLibrary struct{}

func (sumLibrary) Name() string                                                       { return "sum" }
func (sumLibrary) GetInputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error)  { return nil, nil }
func (sumLibrary) GetOutputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) { return nil, nil }

func (sumLibrary) Execute(inputs []nodelib.NamedTensor, params []nodelib.Param) (*nodelib.ExecuteResult, error) {
	in, err := findNamed(inputs, "in")
	if err != nil {
		return nil, err
	}
	var sum float32
	for _, v := range decodeFloats(in.Data) {
		sum += v
	}
	out, err := tensor.New(tensor.FP32, []int64{1}, encodeFloats([]float32{sum}), nil)
	if err != nil {
		return nil, err
	}
	return nodelib.NewExecuteResult([]nodelib.NamedTensor{{Name: "out", Tensor: out}}), nil
}

type addOneLibrary struct{}

func (addOneLibrary) Name() string                                                       { return "add_one" }
func (addOneLibrary) GetInputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error)  { return nil, nil }
func (addOneLibrary) GetOutputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) { return nil, nil }

func (addOneLibrary) Execute(inputs []nodelib.NamedTensor, params []nodelib.Param) (*nodelib.ExecuteResult, error) {
	in, err := findNamed(inputs, "in")
	if err != nil {
		return nil, err
	}
	v := decodeFloats(in.Data)[0] + 1
	out, err := tensor.New(tensor.FP32, []int64{1}, encodeFloats([]float32{v}), nil)
	if err != nil {
		return nil, err
	}
	return nodelib.NewExecuteResult([]nodelib.NamedTensor{{Name: "out", Tensor: out}}), nil
}

func findNamed(inputs []nodelib.NamedTensor, name string) (*tensor.Tensor, error) {
	for _, in := range inputs {
		if in.Name == name {
			return in.Tensor, nil
		}
	}
	return nil, fmt.Errorf("required input %q not found among %d inputs", name, len(inputs))
}

// buildNestedDemuxPipeline wires depth nested demultiplex/gather layers,
// each splitting into branch shards, with a single payload node at the
// innermost layer. Every shard carries the same scalar value (split
// tiles rather than transforms it), so the closed form of the result is
// branch^depth * (v+1): the payload's +1 happens once per leaf, and
// each of the depth gather layers sums branch copies of its input.
func buildNestedDemuxPipeline(branch, depth int) ([]definition.NodeInfo, definition.Connections) {
	demuxName := func(i int) string { return fmt.Sprintf("demux_%d", i) }
	gatherName := func(i int) string { return fmt.Sprintf("gather_%d", i) }

	nodes := []definition.NodeInfo{
		{Name: "entry", Kind: dag.KindEntry, OutputAliasMap: map[string]string{"input_value": "input_value"}},
	}
	for i := 1; i <= depth; i++ {
		nodes = append(nodes,
			definition.NodeInfo{
				Name: demuxName(i), Kind: dag.KindCustom,
				InputAliases:    []string{"in"},
				OutputAliasMap:  map[string]string{"out": "out"},
				LibraryPath:     "split.so",
				DemultiplyCount: branch,
			},
			definition.NodeInfo{
				Name: gatherName(i), Kind: dag.KindCustom,
				InputAliases:   []string{"in"},
				OutputAliasMap: map[string]string{"out": "out"},
				LibraryPath:    "sum.so",
				GatherFromNode: demuxName(i),
			},
		)
	}
	nodes = append(nodes,
		definition.NodeInfo{
			Name: "payload", Kind: dag.KindCustom,
			InputAliases:   []string{"in"},
			OutputAliasMap: map[string]string{"out": "out"},
			LibraryPath:    "add_one.so",
		},
		definition.NodeInfo{Name: "exit", Kind: dag.KindExit, InputAliases: []string{"result"}},
	)

	connections := definition.Connections{
		demuxName(1): {{SourceNode: "entry", SourceAlias: "input_value", DestNode: demuxName(1), DestAlias: "in"}},
	}
	for i := 1; i < depth; i++ {
		connections[demuxName(i+1)] = []dag.Edge{{SourceNode: demuxName(i), SourceAlias: "out", DestNode: demuxName(i + 1), DestAlias: "in"}}
	}
	connections["payload"] = []dag.Edge{{SourceNode: demuxName(depth), SourceAlias: "out", DestNode: "payload", DestAlias: "in"}}
	connections[gatherName(depth)] = []dag.Edge{{SourceNode: "payload", SourceAlias: "out", DestNode: gatherName(depth), DestAlias: "in"}}
	for i := depth - 1; i >= 1; i-- {
		connections[gatherName(i)] = []dag.Edge{{SourceNode: gatherName(i + 1), SourceAlias: "out", DestNode: gatherName(i), DestAlias: "in"}}
	}
	connections["exit"] = []dag.Edge{{SourceNode: gatherName(1), SourceAlias: "out", DestNode: "exit", DestAlias: "result"}}

	return nodes, connections
}

func TestNestedDemultiplexTenLayersEndToEnd(t *testing.T) {
	const branch = 2
	const depth = 10
	libs := mapLibraryResolver{
		"split.so":   splitLibrary{k: branch},
		"sum.so":     sumLibrary{},
		"add_one.so": addOneLibrary{},
	}
	nodes, connections := buildNestedDemuxPipeline(branch, depth)
	def := definition.New("nested-demux-pipeline", nodes, connections, []string{"input_value"}, []string{"result"}, nil, libs)
	require.NoError(t, def.Validate(context.Background()))

	p, err := New(def, Options{MaxParallel: 64})
	require.NoError(t, err)

	entry := dag.EntryBinding{"input_value": floatTensorFor(t, []float32{3})}
	exit, st := p.Run(context.Background(), entry)
	require.True(t, st.Ok(), "status: %v", st)

	got := floatsOf(t, exit["result"])
	require.Len(t, got, 1)
	want := float32(math.Pow(float64(branch), float64(depth))) * 4
	assert.InDelta(t, want, got[0], 0.5)
}
