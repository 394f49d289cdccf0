package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-compute-service/config"
	"github.com/tnqbao/gau-compute-service/provider/dto"
)

func newTestProvider(baseURL string) *ComputeBackendProvider {
	cfg := &config.EnvConfig{}
	cfg.ComputeBackend.URL = baseURL
	cfg.ComputeBackend.APIKey = "test-key"
	cfg.ComputeBackend.Timeout = 2 * time.Second
	return NewComputeBackendProvider(cfg)
}

func TestProvision_Success(t *testing.T) {
	var gotReq dto.ProvisionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/vms", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(dto.ProvisionResponse{PublicIP: "203.0.113.7", HostNode: "node-3"})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	result, err := p.Provision(context.Background(), ProvisionSpec{
		Name:     "test-vm",
		CPUCores: 2,
		MemoryMB: 4096,
		DiskGB:   50,
		PublicIP: "192.168.1.1",
		Labels:   []string{"test"},
	})
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.7", result.PublicIP)
	assert.Equal(t, "node-3", result.HostNode)
	assert.Equal(t, "test-vm", gotReq.Name)
	assert.Equal(t, 2, gotReq.CPUCores)
	assert.Equal(t, 4096, gotReq.MemoryMB)
	assert.Equal(t, 50, gotReq.DiskGB)
	assert.Equal(t, "192.168.1.1", gotReq.PublicIP)
	assert.Equal(t, []string{"test"}, gotReq.Labels)
}

func TestProvision_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"invalid name"}`, wantErr: ErrBackendRejected},
		{name: "conflict", status: http.StatusConflict, body: `{"error":"already exists"}`, wantErr: ErrBackendRejected},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: ErrBackendUnavailable},
		{name: "internal error", status: http.StatusInternalServerError, wantErr: ErrBackendUnknown},
		{name: "bad gateway", status: http.StatusBadGateway, wantErr: ErrBackendUnavailable},
		{name: "service unavailable", status: http.StatusServiceUnavailable, wantErr: ErrBackendUnavailable},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, wantErr: ErrBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != "" {
					w.Write([]byte(tt.body))
				}
			}))
			defer server.Close()

			p := newTestProvider(server.URL)
			_, err := p.Provision(context.Background(), ProvisionSpec{Name: "test-vm", CPUCores: 1, MemoryMB: 512, DiskGB: 10})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestProvision_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Provision(context.Background(), ProvisionSpec{Name: "test-vm", CPUCores: 1, MemoryMB: 512, DiskGB: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestProvision_UndecodableResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Provision(context.Background(), ProvisionSpec{Name: "test-vm", CPUCores: 1, MemoryMB: 512, DiskGB: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnknown)
}

func TestDecommission_Success(t *testing.T) {
	id := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/vms/"+id.String(), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	require.NoError(t, p.Decommission(context.Background(), id))
}

func TestDecommission_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: ErrBackendRejected},
		{name: "internal error", status: http.StatusInternalServerError, wantErr: ErrBackendUnknown},
		{name: "service unavailable", status: http.StatusServiceUnavailable, wantErr: ErrBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			p := newTestProvider(server.URL)
			err := p.Decommission(context.Background(), uuid.New())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
