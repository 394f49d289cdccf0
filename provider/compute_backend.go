package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-compute-service/config"
	"github.com/tnqbao/gau-compute-service/provider/dto"
)

// ProvisionSpec is the sizing/network request handed to the backend.
type ProvisionSpec struct {
	Name     string
	CPUCores int
	MemoryMB int
	DiskGB   int
	PublicIP string
	Labels   []string
}

// ProvisionedVM carries the backend-confirmed fields of a provisioned
// machine. Empty fields mean the backend accepted the requested values.
type ProvisionedVM struct {
	PublicIP string
	HostNode string
}

// ComputeBackend is the gateway to the external provisioning system. It
// performs no retries and touches no local state; both are the caller's
// responsibility.
type ComputeBackend interface {
	Provision(ctx context.Context, spec ProvisionSpec) (*ProvisionedVM, error)
	Decommission(ctx context.Context, id uuid.UUID) error
}

type ComputeBackendProvider struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

func NewComputeBackendProvider(cfg *config.EnvConfig) *ComputeBackendProvider {
	url := cfg.ComputeBackend.URL
	if url == "" {
		panic("Compute backend URL is not configured")
	}

	apiKey := cfg.ComputeBackend.APIKey
	if apiKey == "" {
		panic("Compute backend API key is not configured")
	}

	return &ComputeBackendProvider{
		BaseURL: url,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: cfg.ComputeBackend.Timeout},
	}
}

func (p *ComputeBackendProvider) Provision(ctx context.Context, spec ProvisionSpec) (*ProvisionedVM, error) {
	url := fmt.Sprintf("%s/api/v1/vms", p.BaseURL)

	body, err := json.Marshal(dto.ProvisionRequest{
		Name:     spec.Name,
		CPUCores: spec.CPUCores,
		MemoryMB: spec.MemoryMB,
		DiskGB:   spec.DiskGB,
		PublicIP: spec.PublicIP,
		Labels:   spec.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		// The request never reached the backend or timed out in flight; a
		// timeout is reported as unavailable, never as success.
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, statusToError(resp.StatusCode, resp.Body)
	}

	var provisionResp dto.ProvisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&provisionResp); err != nil {
		// The backend acknowledged but the payload is unreadable; the VM
		// may exist.
		return nil, fmt.Errorf("%w: undecodable response: %v", ErrBackendUnknown, err)
	}

	return &ProvisionedVM{
		PublicIP: provisionResp.PublicIP,
		HostNode: provisionResp.HostNode,
	}, nil
}

func (p *ComputeBackendProvider) Decommission(ctx context.Context, id uuid.UUID) error {
	url := fmt.Sprintf("%s/api/v1/vms/%s", p.BaseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", p.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusToError(resp.StatusCode, resp.Body)
	}

	return nil
}

// statusToError maps a non-success backend status to one of the gateway
// error classes.
func statusToError(statusCode int, body io.Reader) error {
	reason := readReason(body)

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusBadGateway,
		statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: backend returned %d: %s", ErrBackendUnavailable, statusCode, reason)
	case statusCode == http.StatusInternalServerError:
		// The backend failed mid-operation; it may have partially acted.
		return fmt.Errorf("%w: backend returned %d: %s", ErrBackendUnknown, statusCode, reason)
	case statusCode >= 400 && statusCode < 500:
		return fmt.Errorf("%w: backend returned %d: %s", ErrBackendRejected, statusCode, reason)
	default:
		return fmt.Errorf("%w: backend returned %d: %s", ErrBackendUnknown, statusCode, reason)
	}
}

func readReason(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no detail"
	}

	var errResp dto.ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return string(raw)
}
