// Package pipeline wires extraction, analysis and persistence into stage runs.
package pipeline

import (
	"context"
	"errors"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/extract"
	"github.com/dvloznov/findataops/internal/institution"
	"github.com/dvloznov/findataops/internal/metrics"
	"github.com/dvloznov/findataops/internal/source"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel file ingestion when none is configured.
const DefaultConcurrency = 4

// Ingester loads statement files. Each file is its own batch and run.
type Ingester struct {
	Store       IngestStore
	Opener      source.Opener
	Registry    *institution.Registry
	Extractor   *extract.Extractor
	Metrics     *metrics.Metrics
	Concurrency int
}

// IngestFile runs the ingest pipeline for one file. The returned run is non-nil
// whenever the run could be started, including on failure.
func (in *Ingester) IngestFile(ctx context.Context, uri, institutionName string) (*domain.RunRecord, error) {
	rc, ctx, err := StartRun(ctx, in.Store, in.Metrics, domain.StageIngest, uri)
	if err != nil {
		return nil, err
	}

	state := &PipelineState{URI: uri, InstitutionName: institutionName, Run: rc}
	err = NewIngestPipeline(in.registry(), in.Opener, in.extractor(), in.Store).Execute(ctx, state)
	return rc.Run, rc.Close(ctx, err)
}

// IngestFiles ingests uris concurrently. A failing file does not stop the others;
// all failures are joined into the returned error.
func (in *Ingester) IngestFiles(ctx context.Context, uris []string, institutionName string) ([]*domain.RunRecord, error) {
	runs := make([]*domain.RunRecord, len(uris))
	errs := make([]error, len(uris))

	limit := in.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, uri := range uris {
		g.Go(func() error {
			runs[i], errs[i] = in.IngestFile(ctx, uri, institutionName)
			return nil
		})
	}
	_ = g.Wait()

	return runs, errors.Join(errs...)
}

func (in *Ingester) registry() *institution.Registry {
	if in.Registry != nil {
		return in.Registry
	}
	return institution.Default()
}

func (in *Ingester) extractor() *extract.Extractor {
	if in.Extractor != nil {
		return in.Extractor
	}
	return &extract.Extractor{}
}
