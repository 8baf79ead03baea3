package strategy_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/hybrid-lb/internal/strategy"
)

var _ = Describe("Affinity", func() {
	Describe("HashKey", func() {
		It("should be stable for the same identifier", func() {
			ip := "192.168.1.100"
			first := strategy.HashKey(ip)
			for i := 0; i < 5; i++ {
				Expect(strategy.HashKey(ip)).To(Equal(first))
			}
		})

		It("should differ between identifiers", func() {
			Expect(strategy.HashKey("10.0.0.1")).NotTo(Equal(strategy.HashKey("10.0.0.2")))
		})
	})

	Describe("AffinityIndex", func() {
		It("should stay within range", func() {
			for i := 0; i < 500; i++ {
				idx := strategy.AffinityIndex(fmt.Sprintf("client-%d", i), 3)
				Expect(idx).To(BeNumerically(">=", 0))
				Expect(idx).To(BeNumerically("<", 3))
			}
		})

		It("should spread identifiers roughly uniformly", func() {
			counts := make([]int, 3)
			for i := 0; i < 9000; i++ {
				counts[strategy.AffinityIndex(fmt.Sprintf("10.%d.%d.%d", i/65536, (i/256)%256, i%256), 3)]++
			}
			for _, c := range counts {
				Expect(c).To(BeNumerically("~", 3000, 300))
			}
		})
	})
})
