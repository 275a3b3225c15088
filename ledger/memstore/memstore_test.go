package memstore

import (
	"testing"

	"github.com/cloudx-io/sealedbid/ledger"
	"github.com/cloudx-io/sealedbid/ledger/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		return New()
	})
}
