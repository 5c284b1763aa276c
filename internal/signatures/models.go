// Package signatures implements reauthenticated e-signatures over an
// experiment's effective view, with author/witness role pairing.
package signatures

import "time"

type Type string

const (
	TypeAuthor  Type = "author"
	TypeWitness Type = "witness"
)

type Signature struct {
	ID            string    `json:"id"`
	ExperimentID  string    `json:"experimentId"`
	SignerUserID  string    `json:"signerUserId"`
	SignatureType Type      `json:"signatureType"`
	ContentHash   []byte    `json:"contentHash"`
	SignedAt      time.Time `json:"signedAt"`
}
