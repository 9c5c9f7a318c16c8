// Command pipelineclient is a minimal demonstration client for
// cmd/pipelineserver: it registers an add-sub example definition, then
// runs it once against a fixed input and prints the response.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"

	"k8s.io/klog/v2"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	serverURL := "http://localhost:8081"

	klog.InitFlags(nil)
	flag.StringVar(&serverURL, "server", serverURL, "pipelineserver base URL")
	flag.Parse()

	log := klog.FromContext(ctx)

	definitionBody := map[string]any{
		"nodes": []map[string]any{
			{"name": "entry", "kind": "entry", "output_alias_map": map[string]string{"input_numbers": "input_numbers"}},
			{
				"name": "addsub", "kind": "custom",
				"input_aliases":    []string{"input_numbers"},
				"output_alias_map": map[string]string{"addsub_results": "addsub_results"},
				"library_path":     "add_sub.so",
				"params": []map[string]string{
					{"key": "add", "value": "2.5"},
					{"key": "sub", "value": "4.8"},
				},
			},
			{"name": "exit", "kind": "exit", "input_aliases": []string{"addsub_results"}},
		},
		"connections": map[string]any{
			"addsub": []map[string]string{{"source_node": "entry", "source_alias": "input_numbers", "dest_node": "addsub", "dest_alias": "input_numbers"}},
			"exit":   []map[string]string{{"source_node": "addsub", "source_alias": "addsub_results", "dest_node": "exit", "dest_alias": "addsub_results"}},
		},
		"entry_aliases": []string{"input_numbers"},
		"exit_aliases":  []string{"addsub_results"},
	}

	if err := postJSON(ctx, serverURL+"/definitions/addsub-pipeline", definitionBody, nil); err != nil {
		return fmt.Errorf("creating definition: %w", err)
	}
	log.Info("registered pipeline definition", "name", "addsub-pipeline")

	runBody := map[string]any{
		"inputs": map[string]any{
			"input_numbers": map[string]any{
				"precision": "FP32",
				"dims":      []int64{3},
				"data":      floatsToBase64([]float32{3.2, 5.7, -2.4}),
			},
		},
	}

	var resp map[string]any
	if err := postJSON(ctx, serverURL+"/pipelines/addsub-pipeline/run", runBody, &resp); err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
	return nil
}

func postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %v", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// floatsToBase64 encodes values as little-endian FP32 bytes, base64'd
// for inclusion in a JSON request (wireTensor.Data decodes the same way
// server-side via encoding/json's default []byte handling).
func floatsToBase64(values []float32) string {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		bits := math.Float32bits(v)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return base64.StdEncoding.EncodeToString(data)
}
