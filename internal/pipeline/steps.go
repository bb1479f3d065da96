package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/dvloznov/findataops/internal/extract"
	"github.com/dvloznov/findataops/internal/institution"
	"github.com/dvloznov/findataops/internal/source"
	"github.com/dvloznov/findataops/internal/store"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	URI string
	// InstitutionName is the explicit choice; empty means infer from the filename.
	InstitutionName string

	Institution institution.Config
	Data        []byte
	Result      *extract.Result
	Inserted    int

	Run *RunContext
}

// ResolveInstitutionStep picks the institution configuration for the file.
type ResolveInstitutionStep struct {
	Registry *institution.Registry
}

func (s *ResolveInstitutionStep) Execute(ctx context.Context, state *PipelineState) error {
	cfg, err := s.Registry.Resolve(state.InstitutionName, source.Filename(state.URI))
	if err != nil {
		return fmt.Errorf("ResolveInstitution: %w", err)
	}
	state.Institution = cfg
	state.Run.SetInstitution(cfg.Name)
	return nil
}

// FetchStep reads the source file bytes.
type FetchStep struct {
	Opener source.Opener
}

func (s *FetchStep) Execute(ctx context.Context, state *PipelineState) error {
	rc, err := s.Opener.Open(ctx, state.URI)
	if err != nil {
		return fmt.Errorf("Fetch: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("Fetch: reading %s: %w", state.URI, err)
	}
	state.Data = data
	state.Run.Log.Debug().Int("bytes", len(data)).Msg("Fetched source file")
	return nil
}

// ExtractStep normalizes the fetched rows into canonical transactions.
type ExtractStep struct {
	Extractor *extract.Extractor
}

func (s *ExtractStep) Execute(ctx context.Context, state *PipelineState) error {
	res, err := s.Extractor.Extract(ctx, bytes.NewReader(state.Data), state.Institution)
	if err != nil {
		return fmt.Errorf("Extract: %w", err)
	}
	state.Result = res
	state.Run.Run.RowsRead = res.RowsRead
	state.Run.Run.RowsDropped = res.RowsDropped
	return nil
}

// LoadStep writes the batch; identities already stored are counted as duplicates.
type LoadStep struct {
	Writer store.TransactionWriter
}

func (s *LoadStep) Execute(ctx context.Context, state *PipelineState) error {
	n, err := s.Writer.InsertTransactions(ctx, state.Result.Transactions)
	if err != nil {
		return fmt.Errorf("Load: %w", err)
	}
	state.Inserted = n
	state.Run.Run.RowsLoaded = n
	state.Run.Run.RowsDuplicate = len(state.Result.Transactions) - n
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d: %w", i+1, err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewIngestPipeline creates the standard four-step pipeline for one statement file.
func NewIngestPipeline(registry *institution.Registry, opener source.Opener, extractor *extract.Extractor, writer store.TransactionWriter) *Pipeline {
	return NewPipeline(
		&ResolveInstitutionStep{Registry: registry},
		&FetchStep{Opener: opener},
		&ExtractStep{Extractor: extractor},
		&LoadStep{Writer: writer},
	)
}
