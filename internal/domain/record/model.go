package record

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one medical record owned by a patient. Records are append-only:
// once stored they are never updated or deleted, matching the on-chain
// registration of their digest.
type Record struct {
	ID        int64           `json:"id"`
	PatientID int64           `json:"patientId"`
	Title     string          `json:"title"`
	Category  string          `json:"category,omitempty"`
	Hospital  string          `json:"hospital,omitempty"`
	Content   string          `json:"content,omitempty"`
	DataHash  string          `json:"dataHash"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"txHash,omitempty"`
	OwnerAddr string          `json:"ownerAddress,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Metadata is the listing view of a record: everything except the content.
// Researchers browsing the directory see metadata only until consent is
// approved.
type Metadata struct {
	ID        int64           `json:"id"`
	PatientID int64           `json:"patientId"`
	Title     string          `json:"title"`
	Category  string          `json:"category,omitempty"`
	Hospital  string          `json:"hospital,omitempty"`
	DataHash  string          `json:"dataHash"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (r *Record) ToMetadata() *Metadata {
	return &Metadata{
		ID:        r.ID,
		PatientID: r.PatientID,
		Title:     r.Title,
		Category:  r.Category,
		Hospital:  r.Hospital,
		DataHash:  r.DataHash,
		Amount:    r.Amount,
		CreatedAt: r.CreatedAt,
	}
}

// Digest computes the canonical hash of record content: "0x" followed by the
// lowercase hex SHA-256 of the payload. This string is the record's stable
// identity across the database, the consent ledger, and the chain.
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "0x" + hex.EncodeToString(sum[:])
}
