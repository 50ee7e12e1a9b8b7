package syncmem_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mnemohq/mnemo/pkg/eventstream"
	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/memory"
	"github.com/mnemohq/mnemo/pkg/primary"
	"github.com/mnemohq/mnemo/pkg/primary/inmemory"
	"github.com/mnemohq/mnemo/pkg/relational"
	"github.com/mnemohq/mnemo/pkg/role"
	"github.com/mnemohq/mnemo/pkg/syncmem"
)

func TestSyncmem(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Syncmem Suite")
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	events []*eventstream.MemoryMutatedEvent
}

func (p *recordingPublisher) PublishMutation(_ context.Context, event *eventstream.MemoryMutatedEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// failingDriver returns a fixed error from every mutation.
type failingDriver struct {
	err error
}

func (d *failingDriver) Create(context.Context, string, map[string]any) (string, memory.Event, error) {
	return "", memory.EventNone, d.err
}

func (d *failingDriver) Update(context.Context, string, string, map[string]any) (memory.Event, error) {
	return memory.EventNone, d.err
}

func (d *failingDriver) Delete(context.Context, string) (memory.Event, error) {
	return memory.EventNone, d.err
}

func (d *failingDriver) Get(context.Context, string) (*primary.Record, error) { return nil, nil }

func (d *failingDriver) List(context.Context) ([]*primary.Record, error) { return nil, d.err }

func (d *failingDriver) Search(context.Context, string, int) ([]primary.SearchResult, error) {
	return nil, d.err
}

func (d *failingDriver) Close() error { return nil }

var _ = Describe("Coordinator", func() {
	var (
		ctx       context.Context
		db        *relational.DB
		store     *relational.Store
		resolver  *role.Resolver
		driver    *inmemory.Driver
		publisher *recordingPublisher
		coord     *syncmem.Coordinator
	)

	BeforeEach(func() {
		ctx = context.Background()

		dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = relational.Open(relational.DialectSQLite, dbPath, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(db.Migrate(ctx)).To(Succeed())

		store = relational.NewStore(db, logger.Nop())
		resolver, err = role.NewResolver(ctx, db, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		driver = inmemory.NewDriver()
		publisher = &recordingPublisher{}
		coord = syncmem.NewCoordinator(driver, store, resolver,
			syncmem.WithPublisher(publisher))
	})

	AfterEach(func() {
		db.Close()
	})

	Describe("Create", func() {
		It("stores in the primary store and mirrors an ADD", func() {
			scope := memory.Scope{UserID: "u1", SessionID: "s1", ActorID: "agentA"}

			id, event, err := coord.Create(ctx, "the weather is sunny", scope, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(event).To(Equal(memory.EventAdd))

			rec, err := store.GetMemory(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Text).To(Equal("the weather is sunny"))
			Expect(rec.UserID).To(Equal("u1"))
			Expect(rec.SessionID).To(Equal("s1"))

			entries, err := store.GetHistory(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Event).To(Equal(memory.EventAdd))
			Expect(entries[0].NewText).To(Equal("the weather is sunny"))
		})

		It("resolves the role from a text tag and strips it in the mirror", func() {
			id, _, err := coord.Create(ctx, "[assistant] the weather is sunny", memory.Scope{
				UserID: "u1", SessionID: "s1",
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			rec, err := store.GetMemory(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Text).To(Equal("the weather is sunny"))
			Expect(rec.RoleID).NotTo(BeNil())

			assistant, err := resolver.GetRoleByName(ctx, role.AssistantRoleName)
			Expect(err).NotTo(HaveOccurred())
			Expect(*rec.RoleID).To(Equal(assistant.ID))
		})

		It("prefers a voice fingerprint match over the tag role", func() {
			alice, err := resolver.CreateRole(ctx, "alice", "hash-alice")
			Expect(err).NotTo(HaveOccurred())

			id, _, err := coord.Create(ctx, "[user] hello", memory.Scope{
				UserID: "u1", VoiceHash: "hash-alice",
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			rec, err := store.GetMemory(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.RoleID).NotTo(BeNil())
			Expect(*rec.RoleID).To(Equal(alice.ID))
		})

		It("attaches an unmatched fingerprint to the tag role", func() {
			id, _, err := coord.Create(ctx, "[user] hello", memory.Scope{
				UserID: "u1", VoiceHash: "hash-new",
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			user, err := resolver.GetRoleByName(ctx, role.UserRoleName)
			Expect(err).NotTo(HaveOccurred())
			Expect(user.VoiceHash).To(Equal("hash-new"))

			rec, err := store.GetMemory(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(*rec.RoleID).To(Equal(user.ID))
		})

		It("mirrors with a null role when no signal is present", func() {
			id, _, err := coord.Create(ctx, "no tag", memory.Scope{UserID: "u1"}, nil)
			Expect(err).NotTo(HaveOccurred())

			rec, err := store.GetMemory(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.RoleID).To(BeNil())
		})

		It("propagates primary store failures without mirroring", func() {
			boom := errors.New("primary down")
			failing := syncmem.NewCoordinator(&failingDriver{err: boom}, store, resolver)

			_, _, err := failing.Create(ctx, "text", memory.Scope{UserID: "u1"}, nil)
			Expect(err).To(MatchError(boom))

			records, err := store.ListMemories(ctx, relational.Filter{UserID: "u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})

		It("publishes a mutation event", func() {
			id, _, err := coord.Create(ctx, "text", memory.Scope{UserID: "u1"}, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(publisher.events).To(HaveLen(1))
			Expect(publisher.events[0].MemoryID).To(Equal(id))
			Expect(publisher.events[0].Event).To(Equal(memory.EventAdd))
			Expect(publisher.events[0].UserID).To(Equal("u1"))
		})

		It("updates an existing summary row instead of inserting a second", func() {
			scope := memory.Scope{UserID: "u1", SessionID: "s1"}

			first, _, err := coord.Create(ctx, "day one summary", scope,
				map[string]any{"summary": true})
			Expect(err).NotTo(HaveOccurred())

			_, _, err = coord.Create(ctx, "day two summary", scope,
				map[string]any{"summary": true})
			Expect(err).NotTo(HaveOccurred())

			records, err := store.ListMemories(ctx, relational.Filter{
				UserID: "u1", SessionID: "s1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal(first))
			Expect(records[0].Text).To(Equal("day two summary"))
		})
	})

	Describe("Update", func() {
		It("yields the new text and an [ADD, UPDATE] history", func() {
			scope := memory.Scope{UserID: "u1"}

			id, _, err := coord.Create(ctx, "t1", scope, nil)
			Expect(err).NotTo(HaveOccurred())

			event, err := coord.Update(ctx, id, "t2", scope, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(event).To(Equal(memory.EventUpdate))

			rec, err := coord.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Text).To(Equal("t2"))

			mirrored, err := store.GetMemory(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(mirrored.Text).To(Equal("t2"))

			entries, err := store.GetHistory(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Event).To(Equal(memory.EventAdd))
			Expect(entries[0].NewText).To(Equal("t1"))
			Expect(entries[1].Event).To(Equal(memory.EventUpdate))
			Expect(entries[1].OldText).To(Equal("t1"))
			Expect(entries[1].NewText).To(Equal("t2"))
		})

		It("treats an unknown id as a warning, not an error", func() {
			event, err := coord.Update(ctx, "ghost", "text", memory.Scope{}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(event).To(Equal(memory.EventNone))

			records, err := store.ListMemories(ctx, relational.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	Describe("Delete", func() {
		It("removes the memory everywhere and appends a DELETE event", func() {
			scope := memory.Scope{UserID: "u1", SessionID: "s1"}

			id, _, err := coord.Create(ctx, "doomed", scope, nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = db.Exec(ctx, `
				INSERT INTO agent_chat_history (agent_id, session_id, chat_type, content, memory_id)
				VALUES (?, ?, ?, ?, ?)`, "agentA", "s1", 1, "hi", id)
			Expect(err).NotTo(HaveOccurred())

			event, err := coord.Delete(ctx, id, scope)
			Expect(err).NotTo(HaveOccurred())
			Expect(event).To(Equal(memory.EventDelete))

			rec, err := coord.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec).To(BeNil())

			_, err = store.GetMemory(ctx, id)
			Expect(err).To(HaveOccurred())

			var linked int
			err = db.Query(ctx, func(rows *sql.Rows) error {
				if rows.Next() {
					return rows.Scan(&linked)
				}
				return nil
			}, "SELECT COUNT(*) FROM agent_chat_history WHERE memory_id = ?", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(linked).To(BeZero())

			entries, err := store.GetHistory(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[1].Event).To(Equal(memory.EventDelete))
			Expect(entries[1].IsDeleted).To(BeTrue())
			Expect(entries[1].OldText).To(Equal("doomed"))
		})

		It("treats an unknown id as a warning, not an error", func() {
			event, err := coord.Delete(ctx, "ghost", memory.Scope{})
			Expect(err).NotTo(HaveOccurred())
			Expect(event).To(Equal(memory.EventNone))
		})
	})

	Describe("SyncExistingMemories", func() {
		It("backfills primary records missing from the mirror", func() {
			idA, _, err := driver.Create(ctx, "first", map[string]any{"user_id": "u1"})
			Expect(err).NotTo(HaveOccurred())
			_, _, err = driver.Create(ctx, "second", map[string]any{"user_id": "u1"})
			Expect(err).NotTo(HaveOccurred())

			synced, err := coord.SyncExistingMemories(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(synced).To(Equal(2))

			rec, err := store.GetMemory(ctx, idA)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Text).To(Equal("first"))
			Expect(rec.UserID).To(Equal("u1"))
		})

		It("skips records already mirrored", func() {
			_, _, err := coord.Create(ctx, "already mirrored", memory.Scope{UserID: "u1"}, nil)
			Expect(err).NotTo(HaveOccurred())

			synced, err := coord.SyncExistingMemories(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(synced).To(BeZero())
		})
	})
})
