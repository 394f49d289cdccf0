package dto

type ProvisionRequest struct {
	Name     string   `json:"name"`
	CPUCores int      `json:"cpu_cores"`
	MemoryMB int      `json:"memory"`
	DiskGB   int      `json:"disk_size"`
	PublicIP string   `json:"public_ip,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

type ProvisionResponse struct {
	PublicIP string `json:"public_ip,omitempty"`
	HostNode string `json:"host_node,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
