//go:build !noopencv

package orb

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mattanapol/image_matcher/internal/features"
	"github.com/mattanapol/image_matcher/internal/features/patchhash"
	"github.com/mattanapol/image_matcher/internal/imagetest"
)

var _ = Describe("Backend", func() {
	var b *Backend

	BeforeEach(func() {
		var err error
		b, err = New(nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(b.Close)
	})

	It("rejects unknown matchers", func() {
		_, err := New(&Config{Matcher: "lsh"})
		Expect(err).To(HaveOccurred())
	})

	It("names itself after the matcher", func() {
		Expect(b.Name()).To(Equal("orb/bf"))
	})

	It("finds no descriptors on a blank image", func() {
		kps, descs, err := b.Extract(imagetest.Blank(200, 200, 90))
		Expect(err).NotTo(HaveOccurred())
		Expect(kps).To(BeEmpty())
		Expect(features.IsEmpty(descs)).To(BeTrue())
	})

	It("extracts one descriptor row per keypoint", func() {
		kps, descs, err := b.Extract(imagetest.Noise(1, 256, 256, 8))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(features.Release, descs)

		Expect(descs.Len()).To(BeNumerically(">", 0))
		Expect(kps).To(HaveLen(descs.Len()))
	})

	It("matches a descriptor set against itself at distance zero", func() {
		_, descs, err := b.Extract(imagetest.Noise(2, 256, 256, 8))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(features.Release, descs)

		knn, err := b.KnnMatch(descs, descs, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(knn).To(HaveLen(descs.Len()))
		for _, pair := range knn {
			Expect(pair).NotTo(BeEmpty())
			Expect(pair[0].Distance).To(Equal(0.0))
		}
	})

	It("rejects descriptors from another backend", func() {
		_, descs, err := b.Extract(imagetest.Noise(3, 256, 256, 8))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(features.Release, descs)

		_, err = b.KnnMatch(descs, patchhash.Descriptors{{1, 2}}, 2)
		Expect(err).To(MatchError(features.ErrIncompatibleDescriptors))
	})

	It("refuses work after Close and tolerates a second Close", func() {
		Expect(b.Close()).To(Succeed())
		Expect(b.Close()).To(Succeed())

		_, _, err := b.Extract(imagetest.Noise(4, 64, 64, 8))
		Expect(err).To(HaveOccurred())
	})

	It("converts descriptors for FLANN", func() {
		flann, err := New(&Config{Matcher: MatcherFLANN})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(flann.Close)

		_, descs, err := flann.Extract(imagetest.Noise(5, 256, 256, 8))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(features.Release, descs)

		knn, err := flann.KnnMatch(descs, descs, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(knn).To(HaveLen(descs.Len()))
	})
})
