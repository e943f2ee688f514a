package store

import (
	"testing"

	"cellxplore/testutil"
)

func TestStoreUsesBlobFacade(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.BlobBackendImportForbidden, "store reads through the blob facade")
	testutil.AssertNoDirectImports(t, ".", testutil.TransportImportForbidden, "store is transport-agnostic")
}
