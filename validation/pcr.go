package validation

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Nitro measurements are SHA-384 digests.
const pcrHexLen = 2 * 48

// LoadPCRsFromFile loads the enclave builds trusted to issue receipts.
// Entries are normalized to lowercase hex; malformed or repeated entries are rejected.
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}
	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in %s", path)
	}

	sets := make([]PCRSet, 0, len(config.PCRSets))
	for i, set := range config.PCRSets {
		norm, err := set.normalize()
		if err != nil {
			return nil, fmt.Errorf("PCR set #%d: %w", i, err)
		}
		if j := indexOfSet(sets, norm); j >= 0 {
			return nil, fmt.Errorf("PCR set #%d repeats #%d", i, j)
		}
		sets = append(sets, norm)
	}
	return sets, nil
}

// SavePCRsFile adds set to the file at path, creating it if needed.
// It reports whether the set was new.
func SavePCRsFile(path string, set PCRSet) (bool, error) {
	set, err := set.normalize()
	if err != nil {
		return false, err
	}

	sets, err := LoadPCRsFromFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if indexOfSet(sets, set) >= 0 {
		return false, nil
	}

	data, err := json.MarshalIndent(PCRConfig{PCRSets: append(sets, set)}, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return false, fmt.Errorf("write PCR config: %w", err)
	}
	return true, nil
}

// PinAttestedPCRs returns the measurements of the enclave that issued an attested receipt,
// labelled with commit. The attestation must chain to the AWS Nitro root and carry a valid
// signature; its PCRs are taken as given.
func PinAttestedPCRs(attestation []byte, commit string) (*PCRSet, error) {
	return pinAttestedPCRs(attestation, commit, []byte(awsNitroRootCA))
}

func pinAttestedPCRs(attestation []byte, commit string, rootPEM []byte) (*PCRSet, error) {
	base, doc, err := validateCommonAttestation(attestation, nil, rootPEM)
	if err != nil {
		return nil, err
	}
	if !base.CertificateValid || !base.SignatureValid {
		return nil, fmt.Errorf("attestation not trusted: %s", strings.Join(base.ValidationDetails, "; "))
	}

	set, err := PCRSet{
		PCR0:       doc.PCRs.ImageFileHash,
		PCR1:       doc.PCRs.KernelHash,
		PCR2:       doc.PCRs.ApplicationHash,
		PCR8:       doc.PCRs.SigningCertHash,
		CommitHash: commit,
	}.normalize()
	if err != nil {
		return nil, err
	}
	return &set, nil
}

// ValidatePCRs checks if PCRs match any known valid set
// Returns: (match bool, matched set index)
// If no match, returns (false, -1)
func ValidatePCRs(pcrs PCRs, knownSets []PCRSet) (bool, int) {
	for i, knownSet := range knownSets {
		if strings.EqualFold(pcrs.ImageFileHash, knownSet.PCR0) &&
			strings.EqualFold(pcrs.KernelHash, knownSet.PCR1) &&
			strings.EqualFold(pcrs.ApplicationHash, knownSet.PCR2) &&
			(knownSet.PCR8 == "" || strings.EqualFold(pcrs.SigningCertHash, knownSet.PCR8)) {
			return true, i
		}
	}
	return false, -1
}

func (s PCRSet) normalize() (PCRSet, error) {
	fields := []struct {
		name     string
		value    *string
		optional bool
	}{
		{"pcr0", &s.PCR0, false},
		{"pcr1", &s.PCR1, false},
		{"pcr2", &s.PCR2, false},
		{"pcr8", &s.PCR8, true},
	}
	for _, f := range fields {
		v := strings.ToLower(strings.TrimSpace(*f.value))
		*f.value = v
		if v == "" && f.optional {
			continue
		}
		if len(v) != pcrHexLen {
			return s, fmt.Errorf("%s must be %d hex characters, got %d", f.name, pcrHexLen, len(v))
		}
		if _, err := hex.DecodeString(v); err != nil {
			return s, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return s, nil
}

// indexOfSet compares measurements only; the commit label does not make a set distinct.
func indexOfSet(sets []PCRSet, set PCRSet) int {
	for i, s := range sets {
		if s.PCR0 == set.PCR0 && s.PCR1 == set.PCR1 && s.PCR2 == set.PCR2 && s.PCR8 == set.PCR8 {
			return i
		}
	}
	return -1
}
