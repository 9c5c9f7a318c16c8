// Command pipelineserver demonstrates the pipeline execution core end to
// end over plain net/http + encoding/json: POST a definition once, then
// POST named input tensors to run it and get back named output tensors
// and a status. A production deployment would likely front this with a
// gRPC or REST gateway; that surface is intentionally not built here.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
	"github.com/modelmesh/pipelinecore/pkg/definition"
	"github.com/modelmesh/pipelinecore/pkg/factory"
)

// revalidateInterval bounds how often a model-availability change
// triggers a full Factory.RevalidatePipelines sweep.
const revalidateInterval = 2 * time.Second

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	listen := ":8081"
	libraryRoot := os.Getenv("NODE_LIBRARY_ROOT")
	if libraryRoot == "" {
		libraryRoot = "/etc/pipelinecore/libraries"
	}

	klog.InitFlags(nil)
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&libraryRoot, "node-library-root", libraryRoot, "directory node libraries are loaded from")
	flag.Parse()

	log := klog.FromContext(ctx)

	f := factory.New(revalidateInterval)

	if err := os.MkdirAll(libraryRoot, 0755); err != nil {
		return fmt.Errorf("creating node library root %q: %w", libraryRoot, err)
	}
	registry, err := nodelib.NewRegistry(libraryRoot, func(path string) {
		log.Info("node library directory changed, revalidating all pipeline definitions", "path", path)
		for _, def := range f.All() {
			if err := def.Validate(ctx); err != nil {
				log.Error(err, "revalidation after library change failed", "name", def.Name)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("starting node library registry: %w", err)
	}
	defer registry.Close()
	go registry.Run(ctx)
	go runRevalidationSweeps(ctx, f)

	libs := definition.LibraryResolver(registry)
	provider := newDemoModelProvider()

	s := &server{factory: f, provider: provider, libs: libs}

	log.Info("starting pipelineserver", "listen", listen, "nodeLibraryRoot", libraryRoot)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}
	return nil
}

// runRevalidationSweeps periodically gives every definition a chance to
// pick up a model-availability change recorded by its ModelProvider
// subscription; Factory.RevalidatePipelines itself debounces so this
// can run on a tight tick without causing a sweep storm.
func runRevalidationSweeps(ctx context.Context, f *factory.Factory) {
	ticker := time.NewTicker(revalidateInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.RevalidatePipelines(ctx)
		}
	}
}
