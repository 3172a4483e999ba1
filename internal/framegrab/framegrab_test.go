package framegrab

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = DescribeTable("SeekPosition",
	func(duration, position, want float64) {
		Expect(SeekPosition(duration, position)).To(BeNumerically("~", want, 1e-9))
	},
	Entry("middle of the clip", 10.0, 0.5, 5.0),
	Entry("start of the clip", 10.0, 0.0, 0.0),
	Entry("end is pulled back from the last timestamp", 10.0, 1.0, 9.95),
	Entry("negative position clamps to start", 10.0, -1.0, 0.0),
	Entry("position above one clamps to the end", 10.0, 3.0, 9.95),
	Entry("unknown duration", 0.0, 0.5, 0.0),
	Entry("clip shorter than the tail", 0.01, 1.0, 0.0),
)

var _ = Describe("lastLine", func() {
	It("returns the final line of ffmpeg output", func() {
		Expect(lastLine("a\nb\nc\n")).To(Equal("c"))
		Expect(lastLine("only")).To(Equal("only"))
		Expect(lastLine("")).To(BeEmpty())
	})
})

var _ = Describe("Grabber", func() {
	It("defaults the probe timeout", func() {
		g := New(0.25)
		Expect(g.Position).To(Equal(0.25))
		Expect(g.ProbeTimeout).To(Equal(DefaultProbeTimeout))
	})

	It("fails for a file that is not a video", func() {
		path := filepath.Join(GinkgoT().TempDir(), "not-a-video.mp4")
		Expect(os.WriteFile(path, []byte("plain text"), 0o644)).To(Succeed())

		_, err := New(0.5).Grab(context.Background(), path)
		Expect(err).To(HaveOccurred())
	})
})
