package entity

import "time"

// Customer es el adquiriente de una factura.
type Customer struct {
	ID         string
	IDType     IdentificationType
	IDNumber   string
	LegalName  string
	Address    *string
	City       *string
	Department *string
	Country    string
	Email      *string
	Phone      *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
