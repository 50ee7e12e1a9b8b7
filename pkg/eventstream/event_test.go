package eventstream_test

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mnemohq/mnemo/pkg/eventstream"
	"github.com/mnemohq/mnemo/pkg/memory"
)

func TestEventstream(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Eventstream Suite")
}

var _ = Describe("MemoryMutatedEvent", func() {
	It("marshals under the stable wire field names", func() {
		payload, err := json.Marshal(&eventstream.MemoryMutatedEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeMemoryMutated,
			EventID:       "evt-1",
			EmittedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			MemoryID:      "m1",
			Event:         memory.EventAdd,
			UserID:        "u1",
		})
		Expect(err).NotTo(HaveOccurred())

		var decoded map[string]any
		Expect(json.Unmarshal(payload, &decoded)).To(Succeed())
		Expect(decoded).To(HaveKeyWithValue("schema_version", float64(1)))
		Expect(decoded).To(HaveKeyWithValue("event_type", "mnemo.memory.mutated"))
		Expect(decoded).To(HaveKeyWithValue("event_id", "evt-1"))
		Expect(decoded).To(HaveKeyWithValue("memory_id", "m1"))
		Expect(decoded).To(HaveKeyWithValue("event", "ADD"))
		Expect(decoded).To(HaveKeyWithValue("user_id", "u1"))
	})

	It("omits empty scope fields", func() {
		payload, err := json.Marshal(&eventstream.MemoryMutatedEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeMemoryMutated,
			EventID:       "evt-2",
			MemoryID:      "m1",
			Event:         memory.EventDelete,
		})
		Expect(err).NotTo(HaveOccurred())

		var decoded map[string]any
		Expect(json.Unmarshal(payload, &decoded)).To(Succeed())
		Expect(decoded).NotTo(HaveKey("user_id"))
		Expect(decoded).NotTo(HaveKey("session_id"))
		Expect(decoded).NotTo(HaveKey("role_id"))
	})
})
