package validation

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/receipt"
	"github.com/cloudx-io/sealedbid/signing"
)

func testReceipt(t *testing.T) (*core.Auction, *receipt.Receipt) {
	t.Helper()
	var creator, winner core.Identity
	creator[0], winner[0] = 1, 2

	a, err := core.NewAuction(creator, core.CreateParams{ItemName: "car", MinBid: 100, EndTime: 1000}, 10)
	assert.NoError(t, err)
	final, err := a.Finalize(creator, winner, 150, "mpc-9", 1000)
	assert.NoError(t, err)
	r, err := receipt.FromAuction(final, 1001)
	assert.NoError(t, err)
	return final, r
}

func TestValidateAttestedReceipt(t *testing.T) {
	nsm := newTestNSM(t)
	auction, r := testReceipt(t)

	doc, err := receipt.NewNitroIssuer(nsm).Issue(r)
	assert.NoError(t, err)

	result, parsed, err := validateAttestedReceipt(doc, nsm.pcrSets(), nsm.rootPEM)
	assert.NoError(t, err)
	check.True(t, result.PCRsValid)
	check.True(t, result.CertificateValid)
	check.True(t, result.SignatureValid)
	check.True(t, result.ReceiptParsed)
	check.True(t, result.IsValid())
	assert.NotNil(t, parsed)
	check.Equal(t, r, parsed)
	check.NoError(t, MatchAuction(parsed, auction))
}

func TestValidateAttestedReceipt_AWSRootRejectsTestChain(t *testing.T) {
	nsm := newTestNSM(t)
	_, r := testReceipt(t)
	doc, err := receipt.NewNitroIssuer(nsm).Issue(r)
	assert.NoError(t, err)

	result, _, err := ValidateAttestedReceipt(doc, nsm.pcrSets())
	assert.NoError(t, err)
	check.False(t, result.CertificateValid)
	check.True(t, result.SignatureValid)
	check.False(t, result.IsValid())
}

func TestValidateAttestedReceipt_UnknownPCRs(t *testing.T) {
	nsm := newTestNSM(t)
	_, r := testReceipt(t)
	doc, err := receipt.NewNitroIssuer(nsm).Issue(r)
	assert.NoError(t, err)

	result, _, err := validateAttestedReceipt(doc, []PCRSet{{PCR0: "00", PCR1: "11", PCR2: "22"}}, nsm.rootPEM)
	assert.NoError(t, err)
	check.False(t, result.PCRsValid)
	check.False(t, result.IsValid())
	check.True(t, strings.Contains(strings.Join(result.ValidationDetails, "\n"), "no match"))
}

func TestValidateAttestedReceipt_TamperedPayload(t *testing.T) {
	nsm := newTestNSM(t)
	_, r := testReceipt(t)
	doc, err := receipt.NewNitroIssuer(nsm).Issue(r)
	assert.NoError(t, err)

	// Rewrite the receipt inside the signed payload without re-signing.
	var arr []cbor.RawMessage
	assert.NoError(t, cbor.Unmarshal(doc, &arr))
	var payload []byte
	assert.NoError(t, cbor.Unmarshal(arr[2], &payload))
	var fields map[string]any
	assert.NoError(t, cbor.Unmarshal(payload, &fields))

	forged := *r
	forged.WinningBid = 1_000_000
	forgedBytes, err := forged.Marshal()
	assert.NoError(t, err)
	fields["user_data"] = forgedBytes
	newPayload, err := cbor.Marshal(fields)
	assert.NoError(t, err)
	arr[2], err = cbor.Marshal(newPayload)
	assert.NoError(t, err)
	tampered, err := cbor.Marshal(arr)
	assert.NoError(t, err)

	result, parsed, err := validateAttestedReceipt(tampered, nsm.pcrSets(), nsm.rootPEM)
	assert.NoError(t, err)
	check.False(t, result.SignatureValid)
	check.False(t, result.IsValid())
	assert.NotNil(t, parsed)
	check.Equal(t, uint64(1_000_000), parsed.WinningBid)
}

func TestValidateAttestedReceipt_Malformed(t *testing.T) {
	_, _, err := ValidateAttestedReceipt([]byte{0x01}, nil)
	check.Error(t, err)
}

func TestVerifySignedReceipt(t *testing.T) {
	node, err := signing.NewKeyManager()
	assert.NoError(t, err)
	auction, r := testReceipt(t)

	doc, err := receipt.NewKeyIssuer(node).Issue(r)
	assert.NoError(t, err)

	parsed, err := VerifySignedReceipt(doc, node.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, r, parsed)
	check.NoError(t, MatchAuction(parsed, auction))

	imposter, err := signing.NewKeyManager()
	assert.NoError(t, err)
	_, err = VerifySignedReceipt(doc, imposter.PublicKey)
	check.Error(t, err)
}

func TestMatchAuction_Mismatch(t *testing.T) {
	auction, r := testReceipt(t)

	wrongAddr := *r
	wrongAddr.Auction = core.AuctionAddress(auction.Creator, "other")
	check.Error(t, MatchAuction(&wrongAddr, auction))

	wrongWinner := *r
	wrongWinner.Winner[0] = 9
	check.Error(t, MatchAuction(&wrongWinner, auction))
}

func TestCertificateChainExpired(t *testing.T) {
	nsm := newTestNSM(t)
	err := validateChain(nsm.leafDER, [][]byte{nsm.rootDER}, nsm.timestamp.Add(48*time.Hour), nsm.rootPEM)
	check.Error(t, err)
	err = validateChain(nsm.leafDER, [][]byte{nsm.rootDER}, nsm.timestamp, nsm.rootPEM)
	check.NoError(t, err)
}

func writePCRFile(t *testing.T, sets ...PCRSet) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pcrs.json")
	data, err := json.Marshal(PCRConfig{PCRSets: sets})
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadPCRsFromFile(t *testing.T) {
	upper := PCRSet{PCR0: strings.ToUpper(testPCR0), PCR1: testPCR1, PCR2: " " + testPCR2 + " ", CommitHash: "deadbeef"}
	sets, err := LoadPCRsFromFile(writePCRFile(t, upper))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(sets))
	check.Equal(t, testPCR0, sets[0].PCR0)
	check.Equal(t, testPCR2, sets[0].PCR2)
	check.Equal(t, "deadbeef", sets[0].CommitHash)

	ok, idx := ValidatePCRs(PCRs{ImageFileHash: testPCR0, KernelHash: testPCR1, ApplicationHash: testPCR2}, sets)
	check.True(t, ok)
	check.Equal(t, 0, idx)

	ok, idx = ValidatePCRs(PCRs{ImageFileHash: testPCR0, KernelHash: testPCR1, ApplicationHash: testPCR0}, sets)
	check.False(t, ok)
	check.Equal(t, -1, idx)
}

func TestLoadPCRsFromFile_Rejects(t *testing.T) {
	good := PCRSet{PCR0: testPCR0, PCR1: testPCR1, PCR2: testPCR2}
	tests := []struct {
		name string
		sets []PCRSet
	}{
		{name: "empty", sets: nil},
		{name: "short", sets: []PCRSet{{PCR0: "a", PCR1: testPCR1, PCR2: testPCR2}}},
		{name: "not hex", sets: []PCRSet{{PCR0: strings.Repeat("z", pcrHexLen), PCR1: testPCR1, PCR2: testPCR2}}},
		{name: "bad pcr8", sets: []PCRSet{{PCR0: testPCR0, PCR1: testPCR1, PCR2: testPCR2, PCR8: "00"}}},
		{name: "repeated", sets: []PCRSet{good, {PCR0: testPCR0, PCR1: testPCR1, PCR2: testPCR2, CommitHash: "other"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPCRsFromFile(writePCRFile(t, tt.sets...))
			check.Error(t, err)
		})
	}

	_, err := LoadPCRsFromFile(filepath.Join(t.TempDir(), "absent.json"))
	check.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidatePCRs_SigningCert(t *testing.T) {
	pcr8 := strings.Repeat("ab", 48)
	sets := []PCRSet{{PCR0: testPCR0, PCR1: testPCR1, PCR2: testPCR2, PCR8: pcr8}}
	measured := PCRs{ImageFileHash: testPCR0, KernelHash: testPCR1, ApplicationHash: testPCR2}

	ok, _ := ValidatePCRs(measured, sets)
	check.False(t, ok)

	measured.SigningCertHash = strings.ToUpper(pcr8)
	ok, _ = ValidatePCRs(measured, sets)
	check.True(t, ok)
}

func TestPinAttestedPCRs(t *testing.T) {
	nsm := newTestNSM(t)
	_, r := testReceipt(t)
	doc, err := receipt.NewNitroIssuer(nsm).Issue(r)
	assert.NoError(t, err)

	set, err := pinAttestedPCRs(doc, "abc123", nsm.rootPEM)
	assert.NoError(t, err)
	check.Equal(t, nsm.pcrSets()[0], *set)

	// Only a trusted chain may be pinned.
	_, err = PinAttestedPCRs(doc, "abc123")
	check.Error(t, err)

	path := filepath.Join(t.TempDir(), "pcrs.json")
	added, err := SavePCRsFile(path, *set)
	assert.NoError(t, err)
	check.True(t, added)
	added, err = SavePCRsFile(path, *set)
	assert.NoError(t, err)
	check.False(t, added)

	sets, err := LoadPCRsFromFile(path)
	assert.NoError(t, err)
	check.Equal(t, nsm.pcrSets(), sets)

	result, _, err := validateAttestedReceipt(doc, sets, nsm.rootPEM)
	assert.NoError(t, err)
	check.True(t, result.IsValid())
}
