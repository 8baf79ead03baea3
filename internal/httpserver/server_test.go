package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/hybrid-lb/internal/httpserver"
)

func freeAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer l.Close()
	return l.Addr().String()
}

var noop = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

var _ = Describe("HTTP Server", func() {
	DescribeTable("address validation",
		func(addr string, valid bool) {
			srv, err := httpserver.New(addr, noop, httpserver.DefaultOptions())
			if valid {
				Expect(err).NotTo(HaveOccurred())
				Expect(srv.Addr()).To(Equal(addr))
			} else {
				Expect(err).To(HaveOccurred())
				Expect(srv).To(BeNil())
			}
		},
		Entry("hostname and port", "localhost:9999", true),
		Entry("IP and port", "127.0.0.1:9999", true),
		Entry("port only", ":8000", true),
		Entry("too many colons", "invalid:host:port", false),
		Entry("missing port", "localhost", false),
		Entry("non-numeric port", "localhost:http", false),
		Entry("empty", "", false),
	)

	Context("server lifecycle", func() {
		var (
			srv  *httpserver.Server
			addr string
			done chan error
		)

		BeforeEach(func() {
			addr = freeAddr()
			done = make(chan error, 1)

			var err error
			srv, err = httpserver.New(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("test"))
			}), httpserver.Options{ShutdownTimeout: time.Second})
			Expect(err).NotTo(HaveOccurred())

			go func() { done <- srv.Start() }()
			Eventually(func() error {
				conn, err := net.Dial("tcp", addr)
				if err == nil {
					conn.Close()
				}
				return err
			}).Should(Succeed())
		})

		AfterEach(func() {
			_ = srv.Shutdown(context.Background())
		})

		It("starts and handles requests", func() {
			resp, err := http.Get("http://" + addr)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))
		})

		It("shuts down gracefully and Start returns nil", func() {
			Expect(srv.Shutdown(context.Background())).To(Succeed())
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
