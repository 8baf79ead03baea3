package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/hybrid-lb/internal/metrics"
)

const backendA = "http://localhost:5001"

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("IncrementRequests", func() {
		It("should track multiple backends separately", func() {
			m.IncrementRequests(backendA)
			m.IncrementRequests("http://localhost:5002")
			m.IncrementRequests(backendA)

			snap := m.Snapshot("hybrid")
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Backends[backendA].Requests).To(Equal(int64(2)))
			Expect(snap.Backends["http://localhost:5002"].Requests).To(Equal(int64(1)))
		})
	})

	Describe("RecordBackendSelection", func() {
		It("should count selections per reason and in total", func() {
			m.RecordBackendSelection(backendA, "affinity")
			m.RecordBackendSelection(backendA, "affinity")
			m.RecordBackendSelection(backendA, "round_robin")

			bm := m.Snapshot("hybrid").Backends[backendA]
			Expect(bm.Selections).To(Equal(int64(3)))
			Expect(bm.ByReason).To(Equal(map[string]int64{"affinity": 2, "round_robin": 1}))
		})
	})

	Describe("RecordResponse", func() {
		It("should record response time and status code", func() {
			m.RecordResponse(backendA, 100*time.Millisecond, 200)
			m.RecordResponse(backendA, 200*time.Millisecond, 200)
			m.RecordResponse(backendA, 150*time.Millisecond, 502)

			bm := m.Snapshot("hybrid").Backends[backendA]
			Expect(bm.AvgResponse).To(Equal(150 * time.Millisecond))
			Expect(bm.StatusCodes).To(Equal(map[int]int64{200: 2, 502: 1}))
		})

		It("should calculate percentiles", func() {
			for i := 1; i <= 100; i++ {
				m.RecordResponse(backendA, time.Duration(i)*time.Millisecond, 200)
			}

			bm := m.Snapshot("hybrid").Backends[backendA]
			Expect(bm.P50Response).To(BeNumerically("~", 50*time.Millisecond, time.Millisecond))
			Expect(bm.P95Response).To(BeNumerically("~", 95*time.Millisecond, time.Millisecond))
			Expect(bm.P99Response).To(BeNumerically("~", 99*time.Millisecond, time.Millisecond))
		})

		It("should keep only the most recent samples", func() {
			for i := 1; i <= 1500; i++ {
				m.RecordResponse(backendA, time.Duration(i)*time.Millisecond, 200)
			}

			bm := m.Snapshot("hybrid").Backends[backendA]
			Expect(bm.AvgResponse).To(BeNumerically(">", 500*time.Millisecond))
			Expect(bm.StatusCodes[200]).To(Equal(int64(1500)))
		})
	})

	Describe("RecordProxyError and RecordUnavailable", func() {
		It("should count failures separately from responses", func() {
			m.RecordProxyError(backendA)
			m.RecordProxyError(backendA)
			m.RecordUnavailable()

			snap := m.Snapshot("hybrid")
			Expect(snap.Backends[backendA].ProxyErrors).To(Equal(int64(2)))
			Expect(snap.Unavailable).To(Equal(int64(1)))
			Expect(snap.TotalRequests).To(BeZero())
		})
	})

	Describe("RecordProbe", func() {
		It("should keep latency and weight of the last successful probe", func() {
			m.RecordProbe(backendA, true, 10*time.Millisecond, 90.9)
			m.RecordProbe(backendA, false, 0, 0)

			bm := m.Snapshot("hybrid").Backends[backendA]
			Expect(bm.ProbeLatency).To(Equal(10 * time.Millisecond))
			Expect(bm.Weight).To(Equal(90.9))
			Expect(bm.ProbeFailures).To(Equal(int64(1)))
		})
	})

	Describe("UpdateHealthStatus", func() {
		It("should track health status changes", func() {
			m.UpdateHealthStatus(backendA, true)
			Expect(m.Snapshot("hybrid").Backends[backendA].Healthy).To(BeTrue())

			m.UpdateHealthStatus(backendA, false)
			Expect(m.Snapshot("hybrid").Backends[backendA].Healthy).To(BeFalse())
		})
	})

	Describe("Snapshot", func() {
		It("should carry the algorithm name and uptime", func() {
			time.Sleep(5 * time.Millisecond)

			snap := m.Snapshot("hybrid")
			Expect(snap.Algorithm).To(Equal("hybrid"))
			Expect(snap.Uptime).To(BeNumerically(">", 0))
		})

		It("should handle empty metrics", func() {
			snap := m.Snapshot("hybrid")

			Expect(snap.TotalRequests).To(BeZero())
			Expect(snap.Backends).To(BeEmpty())
		})

		It("should not share maps with later updates", func() {
			m.RecordResponse(backendA, time.Millisecond, 200)
			snap := m.Snapshot("hybrid")

			m.RecordResponse(backendA, time.Millisecond, 200)
			Expect(snap.Backends[backendA].StatusCodes[200]).To(Equal(int64(1)))
		})
	})
})
