package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ConsultationRecord is one saved SmartNote. The journal is the
// authoritative store for these records; the vector index is derived.
type ConsultationRecord struct {
	// CorrelationId ties the record to the request that produced it.
	CorrelationId string `json:"correlation_id"`

	// CreatedAt is the creation instant in UTC milliseconds.
	CreatedAt int64 `json:"created_at"`

	// PatientId is an opaque caller-supplied identifier. Never parsed.
	PatientId string `json:"patient_id,omitempty"`

	DentistName      string `json:"dentist_name,omitempty"`
	ConsultationType string `json:"consultation_type,omitempty"`

	// Transcription is the raw recognised text the note was built from.
	Transcription string `json:"transcription,omitempty"`

	// SmartNote is the generated clinical note body.
	SmartNote string `json:"smartnote"`

	// Digest is the content hash over the note text. It uniquely
	// identifies a note body and drives de-duplication on rebuild.
	Digest string `json:"digest"`
}

// NoteDigest computes the content hash for a note body.
func NoteDigest(note string) string {
	sum := sha256.Sum256([]byte(note))
	return hex.EncodeToString(sum[:])
}

// NewConsultationRecord builds a record stamped with the current instant
// and the digest of its note body.
func NewConsultationRecord(correlationId, smartnote, transcription, dentist, consultationType, patientId string) ConsultationRecord {
	return ConsultationRecord{
		CorrelationId:    correlationId,
		CreatedAt:        time.Now().UTC().UnixMilli(),
		PatientId:        patientId,
		DentistName:      dentist,
		ConsultationType: consultationType,
		Transcription:    transcription,
		SmartNote:        smartnote,
		Digest:           NoteDigest(smartnote),
	}
}

// SearchResult is one hit from a consultation search, with the cosine
// score rescaled into [0, 1] for display.
type SearchResult struct {
	SmartNote        string  `json:"smartnote"`
	Transcription    string  `json:"transcription,omitempty"`
	DentistName      string  `json:"dentist_name,omitempty"`
	ConsultationType string  `json:"consultation_type,omitempty"`
	PatientId        string  `json:"patient_id,omitempty"`
	Date             string  `json:"date"`
	Score            float64 `json:"score"`
}
