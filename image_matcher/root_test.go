package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mattanapol/image_matcher/internal/config"
	"github.com/mattanapol/image_matcher/internal/imagetest"
)

var _ = Describe("commands", func() {
	It("binds every mapped flag", func() {
		cmd := newRootCmd()
		for _, b := range flagBindings {
			Expect(cmd.Flag(b.flag)).NotTo(BeNil(), b.flag)
		}
	})

	It("selects the pure Go backend", func() {
		cfg := config.NewDefaultConfig()
		cfg.Matching.Backend = config.BackendPatchHash
		b, err := newBackend(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer b.Close()
		Expect(b.Name()).To(Equal("patchhash"))
	})

	It("rejects an unknown backend", func() {
		cfg := config.NewDefaultConfig()
		cfg.Matching.Backend = "sift"
		_, err := newBackend(cfg)
		Expect(err).To(HaveOccurred())
	})

	It("writes a default config file with config init", func() {
		path := filepath.Join(GinkgoT().TempDir(), "custom.toml")
		out := &bytes.Buffer{}
		cmd := newRootCmd()
		cmd.SetOut(out)
		cmd.SetArgs([]string{"config", "init", path})
		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring(path))

		var cfg config.Config
		_, err := toml.DecodeFile(path, &cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Matching.Ratio).To(Equal(0.35))

		cmd = newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"config", "init", path})
		Expect(cmd.Execute()).NotTo(Succeed())
	})

	It("indexes the dataset, runs the example query and exits", func() {
		root := GinkgoT().TempDir()
		datasetDir := filepath.Join(root, "dataset")
		queryDir := filepath.Join(root, "predict")
		Expect(os.MkdirAll(datasetDir, 0o755)).To(Succeed())
		Expect(os.MkdirAll(queryDir, 0o755)).To(Succeed())

		foo := imagetest.Noise(1, 256, 256, 8)
		_, err := imagetest.Save(datasetDir, "foo.png", foo)
		Expect(err).NotTo(HaveOccurred())
		_, err = imagetest.Save(datasetDir, "bar.png", imagetest.Noise(2, 256, 256, 8))
		Expect(err).NotTo(HaveOccurred())
		_, err = imagetest.Save(queryDir, "query.png", foo)
		Expect(err).NotTo(HaveOccurred())

		history := filepath.Join(root, "history.csv")
		out := &bytes.Buffer{}
		cmd := newRootCmd()
		cmd.SetIn(bytes.NewBufferString("query.png\nquit\n"))
		cmd.SetOut(out)
		cmd.SetArgs([]string{
			"--config", writeConfig(root),
			"--dataset", datasetDir,
			"--query-dir", queryDir,
			"--example", "query.png",
			"--history", history,
			"--backend", config.BackendPatchHash,
			"--workers", "2",
			"--dataset-workers", "2",
		})
		Expect(cmd.ExecuteContext(context.Background())).To(Succeed())

		Expect(out.String()).To(ContainSubstring("Loading Images..."))
		Expect(out.String()).To(ContainSubstring("Successfully loaded 2 images"))
		Expect(out.String()).To(ContainSubstring("Match:"))
		Expect(out.String()).To(ContainSubstring("Input: " + filepath.Join(queryDir, "query.png")))
		Expect(out.String()).To(ContainSubstring("foo"))

		data, err := os.ReadFile(history)
		Expect(err).NotTo(HaveOccurred())
		// header, the example query and one typed query
		Expect(bytes.Count(data, []byte("\n"))).To(Equal(3))
	})

	It("fails on an invalid setting", func() {
		root := GinkgoT().TempDir()
		cmd := newRootCmd()
		cmd.SetIn(bytes.NewBufferString(""))
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--config", writeConfig(root), "--ratio", "1.5", "--backend", config.BackendPatchHash})
		Expect(cmd.Execute()).NotTo(Succeed())
	})
})

// writeConfig writes a default config file into dir so tests never pick up
// one from the working directory.
func writeConfig(dir string) string {
	path := filepath.Join(dir, "image_matcher.toml")
	Expect(config.WriteDefault(path)).To(Succeed())
	return path
}
