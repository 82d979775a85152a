package entity

import "errors"

var (
	errInvoiceTotalsMismatch = errors.New("entity: subtotal + tax must equal total and match line item sums")
	errDueDateNotAfterIssue  = errors.New("entity: due date must be after issue date")
)
