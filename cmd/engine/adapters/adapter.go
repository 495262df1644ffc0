package adapters

import (
	"context"
	"sort"
	"time"

	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// Result is the uniform response of every tool adapter call
type Result struct {
	Success         bool           `json:"success"`
	Data            map[string]any `json:"data,omitempty"`
	Error           *CallError     `json:"error,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// CallError is the sanitized error surface of a failed call
type CallError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CredentialHandle resolves a credential lazily and refreshes it on auth
// failures. Implemented by the credential store; faked in tests.
type CredentialHandle interface {
	Get(ctx context.Context) (*models.DecryptedCredential, error)
	Refresh(ctx context.Context) (*models.DecryptedCredential, error)
}

// Adapter is a provider-specific client with a closed operation set
type Adapter interface {
	Provider() string
	Operations() []string
	Call(ctx context.Context, operation string, callParams map[string]any, cred CredentialHandle) (*Result, error)
}

// Registry holds all adapters, keyed by provider. Initialized once at
// startup and immutable afterwards.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry from the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	reg := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		reg.adapters[a.Provider()] = a
	}
	return reg
}

// Get returns the adapter for a provider
func (r *Registry) Get(provider string) (Adapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no adapter for provider %q", provider)
	}
	return a, nil
}

// Providers lists registered providers, sorted
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call dispatches to the provider's adapter
func (r *Registry) Call(ctx context.Context, provider, operation string, callParams map[string]any, cred CredentialHandle) (*Result, error) {
	a, err := r.Get(provider)
	if err != nil {
		return nil, err
	}
	return a.Call(ctx, operation, callParams, cred)
}

// failure builds a Result carrying a classified error. The upstream payload
// is never included; only kind and a sanitized message surface.
func failure(err error, started time.Time) *Result {
	kind := errs.KindOf(err)
	return &Result{
		Success:         false,
		Error:           &CallError{Kind: string(kind), Message: err.Error()},
		ExecutionTimeMS: time.Since(started).Milliseconds(),
	}
}

// success builds a Result from parsed response data
func success(data map[string]any, started time.Time, meta map[string]any) *Result {
	return &Result{
		Success:         true,
		Data:            data,
		ExecutionTimeMS: time.Since(started).Milliseconds(),
		Metadata:        meta,
	}
}

// unknownOperation is the shared closed-enum violation error
func unknownOperation(provider, operation string) error {
	return errs.New(errs.KindInvalidInput, "unknown operation %q for provider %s", operation, provider)
}

// requireParam fetches a mandatory string parameter
func requireParam(callParams map[string]any, key string) (string, error) {
	v, ok := callParams[key].(string)
	if !ok || v == "" {
		return "", requireParamError(key)
	}
	return v, nil
}

func requireParamError(key string) error {
	return errs.New(errs.KindInvalidInput, "missing required parameter %q", key)
}
