package repository

import (
	"github.com/tnqbao/gau-compute-service/infra"
)

type Repository struct {
	VMRepo      *VMRepository
	VMEventRepo *VMEventRepository
}

var repository *Repository

func InitRepository(infra *infra.Infra) *Repository {
	repository = &Repository{
		VMRepo:      NewVMRepository(infra.Postgres.DB),
		VMEventRepo: NewVMEventRepository(infra.Postgres.DB),
	}
	return repository
}

func GetRepository() *Repository {
	if repository == nil {
		panic("repository not initialized")
	}
	return repository
}
