package integration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"capsule-go/internal/capsule"
)

var _ = Describe("Channel messaging", func() {
	var (
		mr  *miniredis.Miniredis
		c   *capsule.Capsule
		ctx context.Context
	)

	BeforeEach(func() {
		mr = startRedis()
		c = newCapsule(mr.Addr(), capsule.Options{})
		ctx = context.Background()
	})

	Describe("round trip", func() {
		DescribeTable("delivers the published payload unchanged",
			func(payload any) {
				box := &inbox{}
				Expect(c.Publish(ctx, "events", payload)).To(Succeed())

				sub, err := c.Subscribe([]string{"events"}, box.handle)
				Expect(err).NotTo(HaveOccurred())
				waitListening(sub)

				Eventually(box.received, 5*time.Second).Should(HaveLen(1))
				if payload == nil {
					Expect(box.received()[0]).To(BeNil())
					return
				}
				Expect(box.received()[0]).To(Equal(payload))
			},
			Entry("string", "hello"),
			Entry("number", json.Number("42")),
			Entry("integer beyond float64 precision", json.Number("9007199254740993")),
			Entry("boolean", true),
			Entry("null", nil),
			Entry("list", []any{"a", json.Number("1")}),
			Entry("object", map[string]any{"id": "7", "tags": []any{"x"}}),
		)
	})

	It("dispatches the sentinel for malformed entries and keeps listening", func() {
		box := &inbox{}
		sub, err := c.Subscribe([]string{"events"}, box.handle)
		Expect(err).NotTo(HaveOccurred())
		waitListening(sub)

		_, err = mr.DB(testDB).Push("events", "{broken")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Publish(ctx, "events", "after")).To(Succeed())

		Eventually(box.received, 5*time.Second).Should(Equal([]any{capsule.MalformedPayload, "after"}))
		Expect(sub.Listener().State()).To(Equal(capsule.StateListening))
	})

	It("shares one listener and one connection for the same channel set", func() {
		first, err := c.Subscribe([]string{"a", "b"}, (&inbox{}).handle)
		Expect(err).NotTo(HaveOccurred())
		second, err := c.Subscribe([]string{"b", "a"}, (&inbox{}).handle)
		Expect(err).NotTo(HaveOccurred())

		Expect(second.Listener()).To(BeIdenticalTo(first.Listener()))
		Expect(c.Listeners()).To(HaveLen(1))

		waitListening(first)
		Eventually(mr.CurrentConnectionCount, 5*time.Second).Should(Equal(1))
	})

	It("reuses the endpoint connection across channels when publishing", func() {
		for _, channel := range []string{"a", "b", "c"} {
			Expect(c.Publish(ctx, channel, channel)).To(Succeed())
		}

		Expect(c.Connections()).To(Equal(1))
		Expect(mr.CurrentConnectionCount()).To(Equal(1))
	})

	It("stops delivering to a removed handler only", func() {
		kept, removed := &inbox{}, &inbox{}
		keptSub, err := c.Subscribe([]string{"events"}, kept.handle)
		Expect(err).NotTo(HaveOccurred())
		removedSub, err := c.Subscribe([]string{"events"}, removed.handle)
		Expect(err).NotTo(HaveOccurred())
		waitListening(keptSub)

		Expect(c.Publish(ctx, "events", "one")).To(Succeed())
		Eventually(removed.received, 5*time.Second).Should(HaveLen(1))

		Expect(c.Unsubscribe(removedSub)).To(BeTrue())
		Expect(c.Publish(ctx, "events", "two")).To(Succeed())

		Eventually(kept.received, 5*time.Second).Should(Equal([]any{"one", "two"}))
		Consistently(removed.received, 200*time.Millisecond).Should(Equal([]any{"one"}))
	})

	It("does not replay consumed messages to later subscribers", func() {
		early, late := &inbox{}, &inbox{}
		earlySub, err := c.Subscribe([]string{"events"}, early.handle)
		Expect(err).NotTo(HaveOccurred())
		waitListening(earlySub)

		Expect(c.Publish(ctx, "events", "hello")).To(Succeed())
		Eventually(early.received, 5*time.Second).Should(Equal([]any{"hello"}))

		_, err = c.Subscribe([]string{"events"}, late.handle)
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Publish(ctx, "events", "next")).To(Succeed())
		Eventually(late.received, 5*time.Second).Should(Equal([]any{"next"}))
		Expect(early.received()).To(Equal([]any{"hello", "next"}))
	})

	It("delivers every message once across a multi-channel listener", func() {
		box := &inbox{}
		sub, err := c.Subscribe([]string{"a", "b"}, box.handle)
		Expect(err).NotTo(HaveOccurred())
		waitListening(sub)

		Expect(c.Publish(ctx, "a", "x")).To(Succeed())
		Expect(c.Publish(ctx, "b", "y")).To(Succeed())

		Eventually(box.received, 5*time.Second).Should(ConsistOf("x", "y"))
		Consistently(box.received, 200*time.Millisecond).Should(HaveLen(2))
	})

	It("isolates a failing handler from the others", func() {
		box := &inbox{}
		sub, err := c.Subscribe([]string{"events"}, func(context.Context, *capsule.Message) error {
			panic("handler exploded")
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Subscribe([]string{"events"}, box.handle)
		Expect(err).NotTo(HaveOccurred())
		waitListening(sub)

		Expect(c.Publish(ctx, "events", 1)).To(Succeed())
		Expect(c.Publish(ctx, "events", 2)).To(Succeed())

		Eventually(box.received, 5*time.Second).Should(Equal([]any{json.Number("1"), json.Number("2")}))
		Expect(sub.Listener().Stats().Faults).To(BeNumerically("==", 2))
	})
})

var _ = Describe("Store outages", func() {
	It("retries until the store is reachable without losing handlers", func() {
		mr := miniredis.NewMiniRedis()
		Expect(mr.Start()).To(Succeed())
		DeferCleanup(mr.Close)
		addr := mr.Addr()
		mr.Close()

		c := newCapsule(addr, capsule.Options{})
		box := &inbox{}
		sub, err := c.Subscribe([]string{"events"}, box.handle)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() uint64 { return sub.Listener().Stats().Reconnects }, 5*time.Second).
			Should(BeNumerically(">=", 1))
		Expect(sub.Listener().State()).NotTo(Equal(capsule.StateListening))

		Expect(mr.Restart()).To(Succeed())
		waitListening(sub)
		Expect(sub.Listener().HandlerCount()).To(Equal(1))

		Expect(c.Publish(context.Background(), "events", "recovered")).To(Succeed())
		Eventually(box.received, 5*time.Second).Should(Equal([]any{"recovered"}))
	})

	It("reports an unreachable store on publish", func() {
		mr := miniredis.NewMiniRedis()
		Expect(mr.Start()).To(Succeed())
		addr := mr.Addr()
		mr.Close()

		c := newCapsule(addr, capsule.Options{})
		err := c.Publish(context.Background(), "events", "lost")
		Expect(err).To(MatchError(capsule.ErrUnreachable))
	})
})
