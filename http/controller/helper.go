package controller

import "github.com/tnqbao/gau-compute-service/entity"

func entityStatus(value string) *entity.VMStatus {
	status := entity.VMStatus(value)
	if !status.Valid() {
		return nil
	}
	return &status
}
