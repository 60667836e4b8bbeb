package extract

import (
	"context"

	"receipt-ingest/internal/models"
)

// ImageLoader resolves an image reference to raw bytes.
type ImageLoader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// ModelInvoker sends the prompt plus image to the extraction backend.
type ModelInvoker interface {
	Invoke(ctx context.Context, prompt string, image []byte) (string, error)
}

// Pipeline runs load, downscale, invoke, extract, normalize. The first
// classified failure aborts the run; there is no partial recovery. Aside
// from the loader and invoker calls the pipeline is a pure function of the
// image reference.
type Pipeline struct {
	loader  ImageLoader
	invoker ModelInvoker
	maxDim  int
}

func NewPipeline(loader ImageLoader, invoker ModelInvoker, maxDim int) *Pipeline {
	return &Pipeline{loader: loader, invoker: invoker, maxDim: maxDim}
}

// Run produces the canonical ParseResult for one image reference.
func (p *Pipeline) Run(ctx context.Context, imageRef string) (models.ParseResult, error) {
	data, err := p.loader.Load(ctx, imageRef)
	if err != nil {
		return models.ParseResult{}, err
	}
	data = downscale(data, p.maxDim)

	raw, err := p.invoker.Invoke(ctx, Prompt, data)
	if err != nil {
		return models.ParseResult{}, err
	}

	payload, err := ExtractPayload(raw)
	if err != nil {
		return models.ParseResult{}, err
	}
	return Normalize(payload), nil
}
