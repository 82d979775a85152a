package entity

import "time"

// SubmissionStatus es el estado de un intento de entrega ante la DIAN.
type SubmissionStatus string

const (
	SubmissionStatusPending    SubmissionStatus = "PENDING"
	SubmissionStatusSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionStatusProcessing SubmissionStatus = "PROCESSING"
	SubmissionStatusAccepted  SubmissionStatus = "ACCEPTED"
	SubmissionStatusRejected  SubmissionStatus = "REJECTED"
	SubmissionStatusError     SubmissionStatus = "ERROR"
)

// submissionRank ordena la red de estados para la comprobación de monotonicidad del
// estado de envío. ERROR se considera terminal pero no se compara con las demás ramas:
// un ERROR no puede "retroceder" porque check_status jamás reescribe un estado terminal
// (ver Terminal()).
var submissionRank = map[SubmissionStatus]int{
	SubmissionStatusPending:    0,
	SubmissionStatusSubmitted:  1,
	SubmissionStatusProcessing: 2,
	SubmissionStatusAccepted:   3,
	SubmissionStatusRejected:   3,
	SubmissionStatusError:      3,
}

// Terminal reporta si el estado no admite más transiciones.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case SubmissionStatusAccepted, SubmissionStatusRejected, SubmissionStatusError:
		return true
	default:
		return false
	}
}

// AtLeast compara posiciones en la retícula de estados para garantizar que el estado
// de un envío sólo avance, nunca retroceda.
func (s SubmissionStatus) AtLeast(other SubmissionStatus) bool {
	return submissionRank[s] >= submissionRank[other]
}

// Submission es un intento de entrega de una Invoice ante la DIAN.
type Submission struct {
	ID            string
	InvoiceID     string
	EnvironmentID string

	TrackID *string
	Status  SubmissionStatus

	EncryptedRequestZip string
	EncryptedResponse   string

	DianErrorCode    *string
	DianErrorMessage *string

	SubmittedAt *time.Time
	ProcessedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
