package strategy_test

import (
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/hybrid-lb/internal/strategy"
)

var _ = Describe("Cursor", func() {
	var cursor *strategy.Cursor

	BeforeEach(func() {
		cursor = strategy.NewCursor()
	})

	It("should cycle through positions in order", func() {
		Expect(cursor.Next(3)).To(Equal(0))
		Expect(cursor.Next(3)).To(Equal(1))
		Expect(cursor.Next(3)).To(Equal(2))
		Expect(cursor.Next(3)).To(Equal(0))
	})

	It("should wrap at use time for different subset sizes", func() {
		Expect(cursor.Next(2)).To(Equal(0))
		Expect(cursor.Next(5)).To(Equal(1))
		Expect(cursor.Next(2)).To(Equal(0))
		Expect(cursor.Value()).To(Equal(uint64(3)))
	})

	It("should distribute evenly", func() {
		counts := make(map[int]int)
		for i := 0; i < 300; i++ {
			counts[cursor.Next(3)]++
		}
		Expect(counts).To(Equal(map[int]int{0: 100, 1: 100, 2: 100}))
	})

	It("should count every concurrent advance", func() {
		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cursor.Next(7)
			}()
		}
		wg.Wait()
		Expect(cursor.Value()).To(Equal(uint64(1000)))
	})

	It("should be shareable between strategies", func() {
		shared := strategy.NewCursor()
		strategy.NewHybridStrategy(strategy.HybridOptions{Cursor: shared})
		shared.Next(2)
		Expect(shared.Value()).To(Equal(uint64(1)))
	})
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
