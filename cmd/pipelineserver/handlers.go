package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"k8s.io/klog/v2"

	"github.com/modelmesh/pipelinecore/pkg/dag"
	"github.com/modelmesh/pipelinecore/pkg/definition"
	"github.com/modelmesh/pipelinecore/pkg/factory"
	"github.com/modelmesh/pipelinecore/pkg/pipeline"
	"github.com/modelmesh/pipelinecore/pkg/status"
)

// server implements net/http.Handler over pkg/factory, exactly the
// net/http + encoding/json idiom cmd/modelstore already uses for its
// own demonstration surface.
type server struct {
	factory  *factory.Factory
	provider definition.ModelResolver
	libs     definition.LibraryResolver
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	tokens := strings.Split(path, "/")

	switch {
	case len(tokens) == 2 && tokens[0] == "definitions" && r.Method == http.MethodPost:
		s.handleCreateDefinition(w, r, tokens[1])
	case len(tokens) == 3 && tokens[0] == "pipelines" && tokens[2] == "run" && r.Method == http.MethodPost:
		s.handleRun(w, r, tokens[1])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *server) handleCreateDefinition(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	var req createDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decoding request: "+err.Error(), http.StatusBadRequest)
		return
	}

	nodes, connections, err := req.toDefinitionInputs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	def, err := s.factory.CreateDefinition(name, nodes, connections, req.EntryAliases, req.ExitAliases, s.provider, s.libs)
	if err != nil {
		writeStatusError(w, status.Of(err))
		return
	}

	if err := def.Validate(ctx); err != nil {
		log.Error(err, "pipeline definition failed validation", "name", name)
		writeStatusError(w, status.Of(err))
		return
	}

	writeJSON(w, http.StatusOK, toWireStatus(nil))
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decoding request: "+err.Error(), http.StatusBadRequest)
		return
	}

	entry := make(dag.EntryBinding, len(req.Inputs))
	for alias, wt := range req.Inputs {
		t, err := fromWireTensor(wt)
		if err != nil {
			http.Error(w, "decoding input "+alias+": "+err.Error(), http.StatusBadRequest)
			return
		}
		entry[alias] = t
	}

	opts := pipeline.Options{MaxParallel: req.MaxParallel, MaxTotalShards: req.MaxTotalShards}
	p, err := s.factory.Create(name, opts)
	if err != nil {
		writeJSON(w, http.StatusOK, runResponse{Status: toWireStatus(status.Of(err))})
		return
	}

	exit, st := p.Run(ctx, entry)
	resp := runResponse{Status: toWireStatus(st)}
	if st.Ok() {
		resp.Outputs = make(map[string]wireTensor, len(exit))
		for alias, t := range exit {
			resp.Outputs[alias] = toWireTensor(t)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Errorf("encoding response: %v", err)
	}
}

func writeStatusError(w http.ResponseWriter, st *status.Status) {
	writeJSON(w, http.StatusOK, toWireStatus(st))
}
