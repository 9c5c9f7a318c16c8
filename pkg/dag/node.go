// Package dag implements one vertex of the pipeline execution graph
// and the acyclicity check applied to a definition's node
// graph at validation time.
package dag

import (
	"context"
	"fmt"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// Kind tags which variant a Node is. Node carries per-variant state and
// dispatches on Kind rather than through an interface hierarchy, so the
// scheduler's hot loop (pkg/pipeline) stays branch-predictable.
type Kind int

const (
	KindEntry Kind = iota
	KindExit
	KindDL
	KindCustom
)

// DynamicDemultiplyCount marks a demultiplexer whose shard count is
// taken from the first dimension of its output at runtime rather than
// declared statically.
const DynamicDemultiplyCount = -1

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "ENTRY"
	case KindExit:
		return "EXIT"
	case KindDL:
		return "DL"
	case KindCustom:
		return "CUSTOM"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

// EntryBinding supplies the request-side tensors an EntryNode
// materializes on execute. Values are keyed by the alias declared for
// that input.
type EntryBinding map[string]*tensor.Tensor

// ExitBinding is where an ExitNode writes its outputs, keyed by the
// alias declared for that output.
type ExitBinding map[string]*tensor.Tensor

// Node is one vertex of a Pipeline's graph. It is constructed by a
// PipelineDefinition and owned exclusively by the Pipeline instance
// executing it.
type Node struct {
	Name string
	Kind Kind

	// InputAliases are the destination aliases this node declares; a
	// node is ready once every alias in this list has a value in
	// inputs.
	InputAliases []string
	// OutputAliasMap maps a producer-local output name to the
	// externally-visible alias downstream edges reference.
	OutputAliasMap map[string]string

	// DemultiplyCount is the static shard count declared for this
	// node, 0 if none, -1 if "dynamic" (taken from the first output
	// dimension at runtime).
	DemultiplyCount int
	// GatherFromNode names the demultiplexer this node gathers for,
	// empty if this is not a gather node.
	GatherFromNode string

	// DL-specific.
	ModelName    string
	ModelVersion *int64
	provider     ModelProvider

	// Custom-node-specific.
	library nodelib.Library
	params  []nodelib.Param

	inputs  map[string]*tensor.Tensor
	missing map[string]bool

	entryBinding EntryBinding
	exitBinding  ExitBinding
}

// NewEntryNode returns the node that materializes request tensors under
// the pipeline's declared input aliases.
func NewEntryNode(name string, outputAliases []string, binding EntryBinding) *Node {
	aliasMap := make(map[string]string, len(outputAliases))
	for _, a := range outputAliases {
		aliasMap[a] = a
	}
	return &Node{
		Name:           name,
		Kind:           KindEntry,
		OutputAliasMap: aliasMap,
		entryBinding:   binding,
		inputs:         map[string]*tensor.Tensor{},
		missing:        map[string]bool{},
	}
}

// NewExitNode returns the node that writes the pipeline's declared
// output aliases into the response binding.
func NewExitNode(name string, inputAliases []string, binding ExitBinding) *Node {
	n := newNode(name, KindExit, inputAliases, nil)
	n.exitBinding = binding
	return n
}

func newNode(name string, kind Kind, inputAliases []string, outputAliasMap map[string]string) *Node {
	missing := make(map[string]bool, len(inputAliases))
	for _, a := range inputAliases {
		missing[a] = true
	}
	return &Node{
		Name:           name,
		Kind:           kind,
		InputAliases:   inputAliases,
		OutputAliasMap: outputAliasMap,
		inputs:         map[string]*tensor.Tensor{},
		missing:        missing,
	}
}

// NewDLNode returns a node that runs inference on a named model.
func NewDLNode(name string, inputAliases []string, outputAliasMap map[string]string, modelName string, version *int64, provider ModelProvider) *Node {
	n := newNode(name, KindDL, inputAliases, outputAliasMap)
	n.ModelName = modelName
	n.ModelVersion = version
	n.provider = provider
	return n
}

// NewCustomNode returns a node that delegates to a plugin library.
func NewCustomNode(name string, inputAliases []string, outputAliasMap map[string]string, library nodelib.Library, params []nodelib.Param, demultiplyCount int, gatherFromNode string) *Node {
	n := newNode(name, KindCustom, inputAliases, outputAliasMap)
	n.library = library
	n.params = params
	n.DemultiplyCount = demultiplyCount
	n.GatherFromNode = gatherFromNode
	return n
}

// SetInput satisfies one declared input alias with a Tensor arriving
// from an upstream node.
func (n *Node) SetInput(alias string, t *tensor.Tensor) error {
	if _, declared := n.missing[alias]; !declared {
		if _, already := n.inputs[alias]; !already {
			return fmt.Errorf("node %q does not declare input alias %q", n.Name, alias)
		}
	}
	n.inputs[alias] = t
	delete(n.missing, alias)
	return nil
}

// IsReady reports whether every declared input alias has a value.
func (n *Node) IsReady() bool {
	return len(n.missing) == 0
}

// Execute runs the node's per-variant logic and returns its produced
// outputs keyed by external alias.
func (n *Node) Execute(ctx context.Context) (map[string]*tensor.Tensor, error) {
	switch n.Kind {
	case KindEntry:
		return n.executeEntry()
	case KindExit:
		return n.executeExit()
	case KindDL:
		return n.executeDL(ctx)
	case KindCustom:
		return n.executeCustom()
	default:
		return nil, status.New(status.UnknownError, "node %q has unrecognized kind %v", n.Name, n.Kind)
	}
}

func (n *Node) executeEntry() (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, len(n.entryBinding))
	for alias, t := range n.entryBinding {
		out[alias] = t
	}
	return out, nil
}

func (n *Node) executeExit() (map[string]*tensor.Tensor, error) {
	for alias, t := range n.inputs {
		n.exitBinding[alias] = t
	}
	return nil, nil
}

func (n *Node) executeDL(ctx context.Context) (map[string]*tensor.Tensor, error) {
	instance, err := n.provider.GetInstance(ctx, n.ModelName, n.ModelVersion)
	if err != nil {
		return nil, err
	}
	outputs, err := instance.Infer(ctx, n.inputs)
	if err != nil {
		if st, ok := err.(*status.Status); ok {
			return nil, st
		}
		return nil, status.New(status.InferenceFailed, "%s: %v", n.Name, err)
	}
	return n.remapOutputs(outputs)
}

func (n *Node) executeCustom() (map[string]*tensor.Tensor, error) {
	named := make([]nodelib.NamedTensor, 0, len(n.inputs))
	for alias, t := range n.inputs {
		named = append(named, nodelib.NamedTensor{Name: alias, Tensor: t})
	}
	result, err := n.library.Execute(named, n.params)
	if err != nil {
		return nil, status.New(status.NodeLibraryExecutionFailed, "%s: %v", n.Name, err)
	}
	defer result.Close()

	outputs := make(map[string]*tensor.Tensor, len(result.Outputs))
	for _, o := range result.Outputs {
		if o.Tensor == nil {
			return nil, status.New(status.NodeLibraryOutputsCorrupted, "%s: output %q is nil", n.Name, o.Name)
		}
		if !o.Tensor.Precision.Known() {
			return nil, status.New(status.NodeLibraryInvalidPrecision, "%s: output %q has unrecognized precision", n.Name, o.Name)
		}
		if len(o.Tensor.Dims) == 0 {
			return nil, status.New(status.NodeLibraryInvalidShape, "%s: output %q has no dimensions", n.Name, o.Name)
		}
		for _, d := range o.Tensor.Dims {
			if d < 1 {
				return nil, status.New(status.NodeLibraryInvalidShape, "%s: output %q has non-positive dimension", n.Name, o.Name)
			}
		}
		size, _ := o.Tensor.Precision.SizeOf()
		want := size
		for _, d := range o.Tensor.Dims {
			want *= int(d)
		}
		if want != len(o.Tensor.Data) {
			return nil, status.New(status.NodeLibraryInvalidContentSize, "%s: output %q byte length %d does not match shape", n.Name, o.Name, len(o.Tensor.Data))
		}
		outputs[o.Name] = o.Tensor
	}
	return n.remapOutputs(outputs)
}

// remapOutputs applies OutputAliasMap and checks every alias downstream
// edges depend on is present.
func (n *Node) remapOutputs(producerOutputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if len(n.OutputAliasMap) == 0 {
		return producerOutputs, nil
	}
	out := make(map[string]*tensor.Tensor, len(n.OutputAliasMap))
	for producerName, externalAlias := range n.OutputAliasMap {
		t, ok := producerOutputs[producerName]
		if !ok {
			return nil, status.New(status.NodeLibraryMissingOutput, "%s: declared output %q was not produced", n.Name, producerName)
		}
		out[externalAlias] = t
	}
	return out, nil
}

// Reset clears the accumulated inputs of a node so it can be reused for
// another shard's sub-execution inside a demultiplex region.
func (n *Node) Reset() {
	n.inputs = map[string]*tensor.Tensor{}
	n.missing = make(map[string]bool, len(n.InputAliases))
	for _, a := range n.InputAliases {
		n.missing[a] = true
	}
}
