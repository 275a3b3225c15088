package validation

import (
	"fmt"
)

// validateCommonAttestation performs validation common to all attestation types:
// PCRs against the known sets, the certificate chain at the attestation timestamp,
// and the COSE signature. rootPEM anchors the chain.
func validateCommonAttestation(coseBytes []byte, knownPCRs []PCRSet, rootPEM []byte) (*BaseValidationResult, *AttestationDoc, error) {
	attestationDoc, err := ParseAttestationDoc(coseBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	result := &BaseValidationResult{
		ValidationDetails: []string{},
	}

	pcrMatch, matchedSet := ValidatePCRs(attestationDoc.PCRs, knownPCRs)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR0: %s (no match)", attestationDoc.PCRs.ImageFileHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR1: %s (no match)", attestationDoc.PCRs.KernelHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR2: %s (no match)", attestationDoc.PCRs.ApplicationHash))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "PCR measurements valid")
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Matched PCR set: #%d (commit: %s)",
			matchedSet, knownPCRs[matchedSet].CommitHash))
	}

	switch {
	case len(attestationDoc.Certificate) == 0:
		result.ValidationDetails = append(result.ValidationDetails, "Missing certificate")
	case len(attestationDoc.CABundle) == 0:
		result.ValidationDetails = append(result.ValidationDetails, "Missing CA bundle")
	default:
		if err := validateChain(attestationDoc.Certificate, attestationDoc.CABundle, attestationDoc.Timestamp, rootPEM); err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Certificate chain validation failed: %v", err))
		} else {
			result.CertificateValid = true
			result.ValidationDetails = append(result.ValidationDetails, "Certificate chain verified")
		}
	}

	if len(attestationDoc.Certificate) > 0 {
		if err := VerifyCOSESignature(coseBytes, attestationDoc.Certificate); err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("COSE signature verification failed: %v", err))
		} else {
			result.SignatureValid = true
			result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
		}
	}

	return result, attestationDoc, nil
}
