package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"capsule-go/internal/api"
	"capsule-go/internal/archive"
	"capsule-go/internal/capsule"
	"capsule-go/internal/config"
	"capsule-go/internal/domain"
	"capsule-go/internal/store/memory"
)

// decoded mirrors api.APIResponse with a raw data field.
type decoded struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *api.APIError   `json:"error"`
}

var _ = Describe("HTTP API", func() {
	var (
		mr     *miniredis.Miniredis
		c      *capsule.Capsule
		server *api.Server
	)

	do := func(method, path, body string) (int, decoded) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := server.App().Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var out decoded
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return resp.StatusCode, out
	}

	BeforeEach(func() {
		mr = startRedis()
		c = newCapsule(mr.Addr(), capsule.Options{})
		logger := quietLogger()

		recorder := archive.NewRecorder(memory.NewArchiveRepository(), "memory", logger)
		sub, err := c.Subscribe([]string{"audit"}, recorder.Handle)
		Expect(err).NotTo(HaveOccurred())
		waitListening(sub)

		server = api.NewServer(api.ServerDeps{
			Config:          &config.ServerConfig{Host: "127.0.0.1", ReadTimeout: time.Second, WriteTimeout: time.Second},
			Logger:          logger,
			ChannelHandler:  api.NewChannelHandler(c, recorder, logger),
			ListenerHandler: api.NewListenerHandler(c, logger),
		})
	})

	It("publishes a request body onto the channel list", func() {
		status, body := do(http.MethodPost, "/v1/channels/orders/messages", `{"sku":"A1","qty":2}`)
		Expect(status).To(Equal(http.StatusAccepted))
		Expect(body.Success).To(BeTrue())

		Expect(mr.DB(testDB).List("orders")).To(Equal([]string{`{"data":{"qty":2,"sku":"A1"}}`}))
	})

	It("publishes to another database when asked", func() {
		status, _ := do(http.MethodPost, "/v1/channels/orders/messages?db=4", `"x"`)
		Expect(status).To(Equal(http.StatusAccepted))
		Expect(mr.DB(4).List("orders")).To(Equal([]string{`{"data":"x"}`}))
	})

	It("archives delivered messages and serves them newest first", func() {
		for _, body := range []string{`"first"`, `"second"`} {
			status, _ := do(http.MethodPost, "/v1/channels/audit/messages", body)
			Expect(status).To(Equal(http.StatusAccepted))
		}

		var records []domain.Record
		Eventually(func() []domain.Record {
			_, body := do(http.MethodGet, "/v1/channels/audit/archive", "")
			records = nil
			Expect(json.Unmarshal(body.Data, &records)).To(Succeed())
			return records
		}, 5*time.Second, 20*time.Millisecond).Should(HaveLen(2))

		Expect(string(records[0].Payload)).To(Equal(`"second"`))
		Expect(string(records[1].Payload)).To(Equal(`"first"`))
	})

	It("lists listeners with their state", func() {
		status, body := do(http.MethodGet, "/v1/listeners", "")
		Expect(status).To(Equal(http.StatusOK))

		var listeners []capsule.ListenerStats
		Expect(json.Unmarshal(body.Data, &listeners)).To(Succeed())
		Expect(listeners).To(HaveLen(1))
		Expect(listeners[0].Channels).To(Equal([]string{"audit"}))
		Expect(listeners[0].State).To(Equal("listening"))
		Expect(listeners[0].Handlers).To(Equal(1))
	})

	It("answers 503 when the store is down", func() {
		mr.Close()

		status, body := do(http.MethodPost, "/v1/channels/orders/messages", `1`)
		Expect(status).To(Equal(http.StatusServiceUnavailable))
		Expect(body.Error.Code).To(Equal(api.ErrCodeUnavailable))
	})
})
