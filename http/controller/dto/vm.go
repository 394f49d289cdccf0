package dto

type CreateVMRequestDTO struct {
	Name     string   `json:"name" binding:"required,min=1,max=255"`
	CPUCores int      `json:"cpu_cores" binding:"required,min=1"`
	MemoryMB int      `json:"memory" binding:"required,min=1"`
	DiskGB   int      `json:"disk_size" binding:"required,min=1"`
	PublicIP string   `json:"public_ip" binding:"omitempty,ip"`
	Labels   []string `json:"labels"`
}
