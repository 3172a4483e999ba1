package patchhash

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mattanapol/image_matcher/internal/features"
	"github.com/mattanapol/image_matcher/internal/imagetest"
)

type foreignSet struct{}

func (foreignSet) Len() int { return 1 }

var _ = Describe("Backend", func() {
	var b *Backend

	BeforeEach(func() {
		b = New(nil)
	})

	Describe("Extract", func() {
		It("finds no features on a blank image", func() {
			kps, descs, err := b.Extract(imagetest.Blank(128, 128, 200))
			Expect(err).NotTo(HaveOccurred())
			Expect(kps).To(BeEmpty())
			Expect(descs).To(BeNil())
		})

		It("finds no features on an image smaller than a patch", func() {
			_, descs, err := b.Extract(imagetest.Noise(1, 16, 16, 4))
			Expect(err).NotTo(HaveOccurred())
			Expect(descs).To(BeNil())
		})

		It("describes every textured patch on the grid", func() {
			kps, descs, err := b.Extract(imagetest.Noise(7, 128, 128, 8))
			Expect(err).NotTo(HaveOccurred())
			Expect(descs.Len()).To(Equal(49))
			Expect(kps).To(HaveLen(49))
			Expect(kps[0].X).To(Equal(16.0))
			Expect(kps[0].Y).To(Equal(16.0))
		})

		It("is deterministic", func() {
			img := imagetest.Noise(3, 96, 96, 8)
			_, a, err := b.Extract(img)
			Expect(err).NotTo(HaveOccurred())
			_, c, err := b.Extract(img)
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(a))
		})

		It("keeps only the strongest patches", func() {
			b = New(&Options{MaxFeatures: 10})
			kps, descs, err := b.Extract(imagetest.Noise(7, 128, 128, 8))
			Expect(err).NotTo(HaveOccurred())
			Expect(descs.Len()).To(Equal(10))
			for i := 1; i < len(kps); i++ {
				Expect(kps[i-1].Response).To(BeNumerically(">=", kps[i].Response))
			}
		})

		It("downscales large images and maps keypoints back", func() {
			kps, descs, err := b.Extract(imagetest.Noise(11, 1024, 1024, 16))
			Expect(err).NotTo(HaveOccurred())
			Expect(descs.Len()).To(Equal(DefaultMaxFeatures))
			for _, kp := range kps {
				Expect(kp.Size).To(Equal(64.0))
				Expect(kp.X).To(BeNumerically("<", 1024))
				Expect(kp.Y).To(BeNumerically("<", 1024))
			}
		})
	})

	Describe("KnnMatch", func() {
		It("matches every descriptor to itself first", func() {
			_, descs, err := b.Extract(imagetest.Noise(5, 128, 128, 8))
			Expect(err).NotTo(HaveOccurred())

			knn, err := b.KnnMatch(descs, descs, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(knn).To(HaveLen(descs.Len()))
			for i, pair := range knn {
				Expect(pair).To(HaveLen(2))
				Expect(pair[0].TrainIdx).To(Equal(i))
				Expect(pair[0].Distance).To(Equal(0.0))
				Expect(pair[1].Distance).To(BeNumerically(">", 0))
			}
		})

		It("orders neighbours by distance and keeps the lower index on ties", func() {
			query := Descriptors{{0, 0}}
			train := Descriptors{{0b111, 0}, {0b1, 0}, {0b10, 0}, {0, 0b1111}}

			knn, err := b.KnnMatch(query, train, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(knn[0]).To(Equal([]features.Neighbor{
				{TrainIdx: 1, Distance: 1},
				{TrainIdx: 2, Distance: 1},
				{TrainIdx: 0, Distance: 3},
			}))
		})

		It("returns fewer than k neighbours when train is small", func() {
			knn, err := b.KnnMatch(Descriptors{{1, 1}}, Descriptors{{1, 1}}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(knn[0]).To(HaveLen(1))
		})

		It("returns nothing for empty sets", func() {
			knn, err := b.KnnMatch(nil, Descriptors{{1, 1}}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(knn).To(BeNil())
		})

		It("rejects descriptors from another backend", func() {
			_, err := b.KnnMatch(foreignSet{}, Descriptors{{1, 1}}, 2)
			Expect(err).To(MatchError(features.ErrIncompatibleDescriptors))
		})
	})

	It("computes Hamming distance over both words", func() {
		Expect(Distance(Descriptor{0, 0}, Descriptor{1, 3})).To(Equal(3))
		Expect(Distance(Descriptor{5, 5}, Descriptor{5, 5})).To(Equal(0))
	})
})
