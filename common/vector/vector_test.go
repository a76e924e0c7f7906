package vector_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nixo.app/triage/common/vector"
)

var _ = Describe("CosineDistance", func() {
	It("is zero for identical directions", func() {
		d, ok := vector.CosineDistance([]float32{1, 2, 3}, []float32{2, 4, 6})
		Expect(ok).To(BeTrue())
		Expect(d).To(BeNumerically("~", 0, 1e-6))
	})

	It("is one for orthogonal vectors", func() {
		d, ok := vector.CosineDistance([]float32{1, 0}, []float32{0, 1})
		Expect(ok).To(BeTrue())
		Expect(d).To(BeNumerically("~", 1, 1e-6))
	})

	It("is two for opposite vectors", func() {
		d, ok := vector.CosineDistance([]float32{1, 0}, []float32{-1, 0})
		Expect(ok).To(BeTrue())
		Expect(d).To(BeNumerically("~", 2, 1e-6))
	})

	It("rejects mismatched dimensions", func() {
		_, ok := vector.CosineDistance([]float32{1, 0, 0}, []float32{1, 0})
		Expect(ok).To(BeFalse())
	})

	It("rejects zero vectors", func() {
		_, ok := vector.CosineDistance([]float32{0, 0}, []float32{1, 0})
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Nullable columns", func() {
	It("stores an empty vector as NULL", func() {
		Expect(vector.Nullable(nil)).To(BeNil())
		Expect(vector.Nullable([]float32{})).To(BeNil())
	})

	It("round-trips a vector", func() {
		v := vector.Nullable([]float32{0.5, -1, 2})
		Expect(v).NotTo(BeNil())
		Expect(v.String()).To(Equal("[0.5,-1,2]"))
		Expect(vector.Slice(v)).To(Equal([]float32{0.5, -1, 2}))
	})

	It("treats NULL as no vector", func() {
		Expect(vector.Slice(nil)).To(BeNil())
	})
})
