package relational

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mnemohq/mnemo/pkg/logger"
)

// The metadata column is TEXT on sqlite but jsonb on postgres, and jsonb has
// no LIKE operator. The marker lookup must cast on postgres or it fails on
// every call. Opening a handle is lazy for the pgx driver, so no server is
// needed to check the predicate.
var _ = Describe("marker predicate", func() {
	It("casts the jsonb metadata column to text on postgres", func() {
		db, err := Open(DialectPostgres, "postgres://localhost:5432/mnemo", logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		store := NewStore(db, logger.Nop())
		Expect(store.markerPredicate()).To(Equal("metadata::text LIKE ?"))
	})

	It("matches the text column directly on sqlite", func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")
		db, err := Open(DialectSQLite, dbPath, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		store := NewStore(db, logger.Nop())
		Expect(store.markerPredicate()).To(Equal("metadata LIKE ?"))
	})
})
