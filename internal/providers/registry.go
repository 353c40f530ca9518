package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/nkamali/faro/internal/pipeline"
)

// Registry resolves routing model names of the form "provider/model" to the
// client registered under that provider name. A bare "model" resolves against
// the default provider. Registry itself implements pipeline.Generator, so
// routing strings flow through the pipeline unchanged.
type Registry struct {
	clients     map[string]pipeline.Generator
	defaultName string
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]pipeline.Generator)}
}

// Register adds a named provider. The first registration becomes the default.
func (r *Registry) Register(name string, client pipeline.Generator) {
	if r.defaultName == "" {
		r.defaultName = name
	}
	r.clients[name] = client
}

// Generate implements pipeline.Generator by dispatching to the addressed
// provider with the provider prefix stripped.
func (r *Registry) Generate(ctx context.Context, prompt, model string, opts pipeline.GenOptions) (string, error) {
	name, apiModel := r.split(model)
	client, ok := r.clients[name]
	if !ok {
		return "", fmt.Errorf("unknown provider %q in model %q", name, model)
	}
	return client.Generate(ctx, prompt, apiModel, opts)
}

func (r *Registry) split(model string) (provider, apiModel string) {
	if i := strings.Index(model, "/"); i > 0 {
		return model[:i], model[i+1:]
	}
	return r.defaultName, model
}
