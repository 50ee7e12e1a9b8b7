package chatlink_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mnemohq/mnemo/pkg/chatlink"
	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/memory"
	"github.com/mnemohq/mnemo/pkg/relational"
)

func TestChatlink(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chatlink Suite")
}

var _ = Describe("Linker", func() {
	var (
		ctx    context.Context
		db     *relational.DB
		store  *relational.Store
		linker *chatlink.Linker
	)

	addChat := func(agentID, sessionID string, chatType memory.ChatType, content string, at time.Time) int64 {
		id, err := db.ExecReturningID(ctx, `
			INSERT INTO agent_chat_history (agent_id, session_id, chat_type, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			agentID, sessionID, int(chatType), content, at)
		Expect(err).NotTo(HaveOccurred())
		return id
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
	})

	AfterEach(func() {
		db.Close()
	})

	Describe("LinkChatToMemory", func() {
		It("links every row in the scope when no ids are given", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "hi", now)
			addChat("agentA", "s1", memory.ChatTypeAssistant, "hello", now.Add(time.Second))
			addChat("agentA", "s1", memory.ChatTypeUser, "how's the weather", now.Add(2*time.Second))
			addChat("agentB", "s1", memory.ChatTypeUser, "other agent", now)

			linked, err := linker.LinkChatToMemory(ctx, "m1", "agentA", "s1", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(linked).To(Equal(int64(3)))
		})

		It("links only the given ids, filtered to the scope", func() {
			now := time.Now().UTC()
			inScope := addChat("agentA", "s1", memory.ChatTypeUser, "mine", now)
			outOfScope := addChat("agentB", "s2", memory.ChatTypeUser, "theirs", now)

			linked, err := linker.LinkChatToMemory(ctx, "m1", "agentA", "s1",
				[]int64{inScope, outOfScope})
			Expect(err).NotTo(HaveOccurred())
			Expect(linked).To(Equal(int64(1)))

			records, err := linker.GetChatRecordsByMemory(ctx, "m1")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal(inScope))
		})

		It("is idempotent", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "hi", now)
			addChat("agentA", "s1", memory.ChatTypeAssistant, "hello", now)

			first, err := linker.LinkChatToMemory(ctx, "m1", "agentA", "s1", nil)
			Expect(err).NotTo(HaveOccurred())

			second, err := linker.LinkChatToMemory(ctx, "m1", "agentA", "s1", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))

			records, err := linker.GetChatRecordsByMemory(ctx, "m1")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})

		It("links by session alone when no agent is given", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "first", now)
			addChat("agentB", "s1", memory.ChatTypeUser, "second", now)
			addChat("agentA", "s2", memory.ChatTypeUser, "elsewhere", now)

			linked, err := linker.LinkChatToMemory(ctx, "m1", "", "s1", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(linked).To(Equal(int64(2)))

			records, err := linker.GetChatRecordsByMemory(ctx, "m1")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})

		It("links by agent alone when no session is given", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "first", now)
			addChat("agentA", "s2", memory.ChatTypeUser, "second", now)
			addChat("agentB", "s1", memory.ChatTypeUser, "other agent", now)

			linked, err := linker.LinkChatToMemory(ctx, "m1", "agentA", "", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(linked).To(Equal(int64(2)))
		})

		It("rejects a call with neither agent nor session", func() {
			_, err := linker.LinkChatToMemory(ctx, "m1", "", "", nil)

			var validation memory.ValidationError
			Expect(err).To(BeAssignableToTypeOf(validation))
		})
	})

	Describe("UnlinkChatRecords", func() {
		It("nulls every link pointing at the memory", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "one", now)
			addChat("agentA", "s1", memory.ChatTypeUser, "two", now)

			_, err := linker.LinkChatToMemory(ctx, "m1", "agentA", "s1", nil)
			Expect(err).NotTo(HaveOccurred())

			unlinked, err := linker.UnlinkChatRecords(ctx, "m1")
			Expect(err).NotTo(HaveOccurred())
			Expect(unlinked).To(Equal(int64(2)))

			records, err := linker.GetChatRecordsByMemory(ctx, "m1")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})

		It("reports zero for a memory with no links", func() {
			unlinked, err := linker.UnlinkChatRecords(ctx, "nothing")
			Expect(err).NotTo(HaveOccurred())
			Expect(unlinked).To(BeZero())
		})
	})

	Describe("GetMemoriesByChatSession", func() {
		It("returns distinct memories linked by the session", func() {
			now := time.Now().UTC()
			first := addChat("agentA", "s1", memory.ChatTypeUser, "one", now)
			second := addChat("agentA", "s1", memory.ChatTypeUser, "two", now)

			Expect(store.AddMemory(ctx, memory.Record{ID: "m1", Text: "remembered"})).To(Succeed())

			_, err := linker.LinkChatToMemory(ctx, "m1", "agentA", "s1", []int64{first, second})
			Expect(err).NotTo(HaveOccurred())

			records, err := linker.GetMemoriesByChatSession(ctx, "agentA", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal("m1"))
			Expect(records[0].Text).To(Equal("remembered"))
		})
	})

	Describe("GetSessionsWithMemories", func() {
		It("aggregates linked sessions newest first", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "old", now.Add(-time.Hour))
			addChat("agentA", "s2", memory.ChatTypeUser, "new", now)

			Expect(store.AddMemory(ctx, memory.Record{ID: "m1", Text: "a"})).To(Succeed())
			Expect(store.AddMemory(ctx, memory.Record{ID: "m2", Text: "b"})).To(Succeed())

			_, err := linker.LinkChatToMemory(ctx, "m1", "agentA", "s1", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = linker.LinkChatToMemory(ctx, "m2", "agentA", "s2", nil)
			Expect(err).NotTo(HaveOccurred())

			sessions, err := linker.GetSessionsWithMemories(ctx, "agentA", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(2))
			Expect(sessions[0].SessionID).To(Equal("s2"))
			Expect(sessions[0].MemoryCount).To(Equal(int64(1)))
			Expect(sessions[0].ChatCount).To(Equal(int64(1)))
		})

		It("omits sessions without linked memories", func() {
			addChat("agentA", "s1", memory.ChatTypeUser, "unlinked", time.Now().UTC())

			sessions, err := linker.GetSessionsWithMemories(ctx, "agentA", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(BeEmpty())
		})
	})

	Describe("GetChatSessionContent", func() {
		It("formats the transcript in chronological order", func() {
			now := time.Now().UTC()
			addChat("agentA", "s1", memory.ChatTypeUser, "how's the weather", now)
			addChat("agentA", "s1", memory.ChatTypeAssistant, "sunny all day", now.Add(time.Second))

			content, err := linker.GetChatSessionContent(ctx, "agentA", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(Equal("User: how's the weather\nAssistant: sunny all day"))
		})

		It("tags unknown speaker types as system", func() {
			addChat("agentA", "s1", memory.ChatType(7), "maintenance notice", time.Now().UTC())

			content, err := linker.GetChatSessionContent(ctx, "agentA", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(Equal("System: maintenance notice"))
		})

		It("returns empty for an unknown session", func() {
			content, err := linker.GetChatSessionContent(ctx, "agentA", "none")
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(BeEmpty())
		})

		It("tolerates null speaker and content columns", func() {
			now := time.Now().UTC()
			_, err := db.Exec(ctx, `
				INSERT INTO agent_chat_history (agent_id, session_id, chat_type, content, created_at)
				VALUES (?, ?, NULL, ?, ?)`,
				"agentA", "s1", "typeless", now)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.Exec(ctx, `
				INSERT INTO agent_chat_history (agent_id, session_id, chat_type, content, created_at)
				VALUES (?, ?, ?, NULL, ?)`,
				"agentA", "s1", int(memory.ChatTypeUser), now.Add(time.Second))
			Expect(err).NotTo(HaveOccurred())

			content, err := linker.GetChatSessionContent(ctx, "agentA", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(Equal("System: typeless\nUser: "))
		})
	})
})
