package provider

import (
	"github.com/tnqbao/gau-compute-service/config"
)

type Provider struct {
	ComputeBackendProvider *ComputeBackendProvider
}

var provider *Provider

func InitProvider(cfg *config.EnvConfig) *Provider {
	computeBackendProvider := NewComputeBackendProvider(cfg)
	provider = &Provider{
		ComputeBackendProvider: computeBackendProvider,
	}

	return provider
}

func GetProvider() *Provider {
	if provider == nil {
		panic("Provider not initialized")
	}
	return provider
}
