package main

import (
	"fmt"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
	"github.com/modelmesh/pipelinecore/pkg/dag"
	"github.com/modelmesh/pipelinecore/pkg/definition"
	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// wireNode is the JSON wire form of definition.NodeInfo.
type wireNode struct {
	Name            string            `json:"name"`
	Kind            string            `json:"kind"`
	InputAliases    []string          `json:"input_aliases,omitempty"`
	OutputAliasMap  map[string]string `json:"output_alias_map,omitempty"`
	ModelName       string            `json:"model_name,omitempty"`
	ModelVersion    *int64            `json:"model_version,omitempty"`
	LibraryPath     string            `json:"library_path,omitempty"`
	Params          []wireParam       `json:"params,omitempty"`
	DemultiplyCount int               `json:"demultiply_count,omitempty"`
	GatherFromNode  string            `json:"gather_from_node,omitempty"`
}

type wireParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type wireEdge struct {
	SourceNode  string `json:"source_node"`
	SourceAlias string `json:"source_alias"`
	DestNode    string `json:"dest_node"`
	DestAlias   string `json:"dest_alias"`
}

type createDefinitionRequest struct {
	Nodes        []wireNode            `json:"nodes"`
	Connections  map[string][]wireEdge `json:"connections"`
	EntryAliases []string              `json:"entry_aliases"`
	ExitAliases  []string              `json:"exit_aliases"`
}

var kindByName = map[string]dag.Kind{
	"entry":  dag.KindEntry,
	"exit":   dag.KindExit,
	"dl":     dag.KindDL,
	"custom": dag.KindCustom,
}

func (req *createDefinitionRequest) toDefinitionInputs() ([]definition.NodeInfo, definition.Connections, error) {
	nodes := make([]definition.NodeInfo, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		kind, ok := kindByName[n.Kind]
		if !ok {
			return nil, nil, fmt.Errorf("node %q: unrecognized kind %q", n.Name, n.Kind)
		}
		params := make([]nodelib.Param, len(n.Params))
		for i, p := range n.Params {
			params[i] = nodelib.Param{Key: p.Key, Value: p.Value}
		}
		nodes = append(nodes, definition.NodeInfo{
			Name:            n.Name,
			Kind:            kind,
			InputAliases:    n.InputAliases,
			OutputAliasMap:  n.OutputAliasMap,
			ModelName:       n.ModelName,
			ModelVersion:    n.ModelVersion,
			LibraryPath:     n.LibraryPath,
			Params:          params,
			DemultiplyCount: n.DemultiplyCount,
			GatherFromNode:  n.GatherFromNode,
		})
	}

	connections := make(definition.Connections, len(req.Connections))
	for destName, edges := range req.Connections {
		converted := make([]dag.Edge, len(edges))
		for i, e := range edges {
			converted[i] = dag.Edge{
				SourceNode:  e.SourceNode,
				SourceAlias: e.SourceAlias,
				DestNode:    e.DestNode,
				DestAlias:   e.DestAlias,
			}
		}
		connections[destName] = converted
	}

	return nodes, connections, nil
}

// wireTensor is the JSON wire form of tensor.Tensor: Data marshals as
// base64 automatically since it is a []byte (encoding/json default).
type wireTensor struct {
	Precision string  `json:"precision"`
	Dims      []int64 `json:"dims"`
	Data      []byte  `json:"data"`
}

func toWireTensor(t *tensor.Tensor) wireTensor {
	return wireTensor{Precision: t.Precision.String(), Dims: t.Dims, Data: t.Data}
}

func fromWireTensor(w wireTensor) (*tensor.Tensor, error) {
	precision, ok := tensor.ParsePrecision(w.Precision)
	if !ok {
		return nil, fmt.Errorf("unrecognized precision %q", w.Precision)
	}
	return tensor.New(precision, w.Dims, w.Data, tensor.CoreOwner)
}

type runRequest struct {
	Inputs         map[string]wireTensor `json:"inputs"`
	MaxParallel    int                   `json:"max_parallel,omitempty"`
	MaxTotalShards int64                 `json:"max_total_shards,omitempty"`
}

type wireStatus struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func toWireStatus(st *status.Status) wireStatus {
	if st == nil {
		return wireStatus{Code: status.OK.String()}
	}
	return wireStatus{Code: st.Code.String(), Message: st.Message}
}

type runResponse struct {
	Status  wireStatus            `json:"status"`
	Outputs map[string]wireTensor `json:"outputs,omitempty"`
}
