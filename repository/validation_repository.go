package repository

import (
	"encoding/json"

	"star-notary/db"
	"star-notary/models"
)

type ValidationRepositoryInterface interface {
	PutValidation(record *models.ValidationRecord) error
	GetValidation(address string) (*models.ValidationRecord, error)
	DeleteValidation(address string) error
}

// ValidationRepository keeps one record per wallet address
type ValidationRepository struct {
	db db.Store
}

func NewValidationRepository(store db.Store) *ValidationRepository {
	return &ValidationRepository{db: store}
}

func (r *ValidationRepository) PutValidation(record *models.ValidationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.db.Put([]byte(record.Address), data)
}

func (r *ValidationRepository) GetValidation(address string) (*models.ValidationRecord, error) {
	data, err := r.db.Get([]byte(address))
	if err != nil {
		return nil, err
	}
	var record models.ValidationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ValidationRepository) DeleteValidation(address string) error {
	return r.db.Delete([]byte(address))
}
