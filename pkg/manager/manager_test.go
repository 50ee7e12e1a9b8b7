package manager_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mnemohq/mnemo/pkg/chatlink"
	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/manager"
	"github.com/mnemohq/mnemo/pkg/memory"
	"github.com/mnemohq/mnemo/pkg/primary/inmemory"
	"github.com/mnemohq/mnemo/pkg/relational"
	"github.com/mnemohq/mnemo/pkg/role"
	"github.com/mnemohq/mnemo/pkg/syncmem"
)

func TestManager(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Manager Suite")
}

// stubSummarizer returns a canned summary, or an error when set.
type stubSummarizer struct {
	summary    string
	err        error
	transcript string
}

func (s *stubSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	s.transcript = transcript
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

var _ = Describe("Manager", func() {
	var (
		ctx    context.Context
		db     *relational.DB
		store  *relational.Store
		linker *chatlink.Linker
		driver *inmemory.Driver
		coord  *syncmem.Coordinator
		mgr    *manager.Manager
	)

	addChat := func(agentID, sessionID string, chatType memory.ChatType, content string, at time.Time) {
		_, err := db.Exec(ctx, `
			INSERT INTO agent_chat_history (agent_id, session_id, chat_type, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			agentID, sessionID, int(chatType), content, at)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()

		dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = relational.Open(relational.DialectSQLite, dbPath, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(db.Migrate(ctx)).To(Succeed())

		store = relational.NewStore(db, logger.Nop())
		linker = chatlink.NewLinker(db, logger.Nop())

		resolver, err := role.NewResolver(ctx, db, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		driver = inmemory.NewDriver()
		coord = syncmem.NewCoordinator(driver, store, resolver)
		mgr = manager.New(coord, linker)
	})

	AfterEach(func() {
		db.Close()
	})

	Describe("CreateMemoryFromSession", func() {
		It("stores the memory and links the session transcript", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "how's the weather", now)
			addChat("agentA", "s1", memory.ChatTypeAssistant, "sunny all day", now.Add(time.Second))
			addChat("agentA", "s1", memory.ChatTypeUser, "great, thanks", now.Add(2*time.Second))

			result, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1",
				"[assistant] the weather is sunny", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Event).To(Equal(memory.EventAdd))
			Expect(result.LinkedCount).To(Equal(int64(3)))

			entries, err := store.GetHistory(ctx, result.MemoryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Event).To(Equal(memory.EventAdd))

			records, err := mgr.GetMemoriesForSession(ctx, "agentA", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal(result.MemoryID))
		})

		It("rejects empty text without autoGenerate", func() {
			_, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1", "", false)

			var validation memory.ValidationError
			Expect(errors.As(err, &validation)).To(BeTrue())
		})

		It("rejects autoGenerate without a summarizer", func() {
			_, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1", "", true)

			var validation memory.ValidationError
			Expect(errors.As(err, &validation)).To(BeTrue())
		})

		It("rejects autoGenerate for a session with no transcript", func() {
			mgr = manager.New(coord, linker,
				manager.WithSummarizer(&stubSummarizer{summary: "unused"}))

			_, err := mgr.CreateMemoryFromSession(ctx, "agentA", "empty", "u1", "", true)

			var validation memory.ValidationError
			Expect(errors.As(err, &validation)).To(BeTrue())
		})

		It("generates the text from the transcript when autoGenerate is set", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "how's the weather", now)
			addChat("agentA", "s1", memory.ChatTypeAssistant, "sunny all day", now.Add(time.Second))

			stub := &stubSummarizer{summary: "the user asked about the weather"}
			mgr = manager.New(coord, linker, manager.WithSummarizer(stub))

			result, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1", "", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(stub.transcript).To(Equal("User: how's the weather\nAssistant: sunny all day"))

			rec, err := coord.Get(ctx, result.MemoryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Text).To(Equal("the user asked about the weather"))
		})

		It("replaces the prior generated summary instead of accumulating", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "hello", now)

			stub := &stubSummarizer{summary: "first summary"}
			mgr = manager.New(coord, linker, manager.WithSummarizer(stub))

			_, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1", "", true)
			Expect(err).NotTo(HaveOccurred())

			stub.summary = "second summary"
			_, err = mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1", "", true)
			Expect(err).NotTo(HaveOccurred())

			records, err := store.ListMemories(ctx, relational.Filter{
				UserID: "u1", SessionID: "s1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Text).To(Equal("second summary"))
		})

		It("surfaces summarizer failures", func() {
			addChat("agentA", "s1", memory.ChatTypeUser, "hello", time.Now().UTC())

			boom := errors.New("model unavailable")
			mgr = manager.New(coord, linker, manager.WithSummarizer(&stubSummarizer{err: boom}))

			_, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1", "", true)
			Expect(err).To(MatchError(boom))
		})
	})

	Describe("SearchMemoriesForAgent", func() {
		It("drops hits belonging to another agent and counts links", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "weather talk", now)

			mine, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1",
				"the weather is sunny", false)
			Expect(err).NotTo(HaveOccurred())

			_, err = mgr.CreateMemoryFromSession(ctx, "agentB", "s2", "u1",
				"the weather is rainy", false)
			Expect(err).NotTo(HaveOccurred())

			matches, err := mgr.SearchMemoriesForAgent(ctx, "agentA", "weather", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].ID).To(Equal(mine.MemoryID))
			Expect(matches[0].LinkedChats).To(Equal(1))
		})
	})

	Describe("UpdateMemoryAndSync", func() {
		It("rewrites the text in both stores with history attribution", func() {
			result, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1", "t1", false)
			Expect(err).NotTo(HaveOccurred())

			event, err := mgr.UpdateMemoryAndSync(ctx, result.MemoryID, "t2")
			Expect(err).NotTo(HaveOccurred())
			Expect(event).To(Equal(memory.EventUpdate))

			rec, err := coord.Get(ctx, result.MemoryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Text).To(Equal("t2"))

			entries, err := store.GetHistory(ctx, result.MemoryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[1].Event).To(Equal(memory.EventUpdate))
			Expect(entries[1].ActorID).To(Equal("agentA"))
		})
	})

	Describe("DeleteMemoryAndUnlink", func() {
		It("unlinks the transcript rows and deletes the memory", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "one", now)
			addChat("agentA", "s1", memory.ChatTypeAssistant, "two", now)
			addChat("agentA", "s1", memory.ChatTypeUser, "three", now)

			result, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1",
				"remembered", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.LinkedCount).To(Equal(int64(3)))

			unlinked, err := mgr.DeleteMemoryAndUnlink(ctx, result.MemoryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(unlinked).To(Equal(int64(3)))

			rec, err := coord.Get(ctx, result.MemoryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec).To(BeNil())

			records, err := mgr.GetMemoriesForSession(ctx, "agentA", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	Describe("GetAgentMemorySummary", func() {
		It("aggregates sessions, memories, and chats", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "old session", now.Add(-time.Hour))
			addChat("agentA", "s2", memory.ChatTypeUser, "new session", now)
			addChat("agentA", "s2", memory.ChatTypeAssistant, "reply", now.Add(time.Second))

			_, err := mgr.CreateMemoryFromSession(ctx, "agentA", "s1", "u1", "a", false)
			Expect(err).NotTo(HaveOccurred())
			_, err = mgr.CreateMemoryFromSession(ctx, "agentA", "s2", "u1", "b", false)
			Expect(err).NotTo(HaveOccurred())

			summary, err := mgr.GetAgentMemorySummary(ctx, "agentA")
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.AgentID).To(Equal("agentA"))
			Expect(summary.TotalSessions).To(Equal(2))
			Expect(summary.TotalMemories).To(Equal(int64(2)))
			Expect(summary.TotalChats).To(Equal(int64(3)))
			Expect(summary.Sessions[0].SessionID).To(Equal("s2"))
		})

		It("returns an empty summary for an unknown agent", func() {
			summary, err := mgr.GetAgentMemorySummary(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.TotalSessions).To(BeZero())
			Expect(summary.Sessions).To(BeEmpty())
		})
	})
})
