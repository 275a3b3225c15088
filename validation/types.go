package validation

import "time"

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// AttestedReceiptResult contains validation results for a receipt carried in a Nitro attestation
type AttestedReceiptResult struct {
	BaseValidationResult
	ReceiptParsed bool
}

// IsValid returns true if all attested receipt checks passed
func (r *AttestedReceiptResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.ReceiptParsed
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the decoded form of a Nitro attestation document
type AttestationDoc struct {
	ModuleID        string
	Timestamp       time.Time
	DigestAlgorithm string
	PCRs            PCRs
	Certificate     []byte // DER
	CABundle        [][]byte
	Nonce           []byte
	UserData        []byte
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	PCR8       string `json:"pcr8,omitempty"` // signing certificate; matched only when set
	CommitHash string `json:"commit_hash"`    // repo commit used to build the enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
