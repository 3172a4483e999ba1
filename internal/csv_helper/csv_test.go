package csv_helper

import (
	"encoding/csv"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func readAll(path string) [][]string {
	f, err := os.Open(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	Expect(err).NotTo(HaveOccurred())
	return records
}

var _ = Describe("History CSV", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "history.csv")
	})

	It("writes the header once and appends records", func() {
		Expect(CreateCSVFileWithHeaders(path, HistoryHeaders)).To(Succeed())
		Expect(AppendResultToCSV(path, []string{"t", "id", "cat.png", "cat", "cat.png", "12", "0.05"})).To(Succeed())
		Expect(CreateCSVFileWithHeaders(path, HistoryHeaders)).To(Succeed())
		Expect(AppendResultToCSV(path, []string{"t", "id2", "dog.png", "", "", "0", "0.01"})).To(Succeed())

		records := readAll(path)
		Expect(records).To(HaveLen(3))
		Expect(records[0]).To(Equal(HistoryHeaders))
		Expect(records[1][2]).To(Equal("cat.png"))
		Expect(records[2][1]).To(Equal("id2"))
	})

	It("returns an error when the directory does not exist", func() {
		missing := filepath.Join(GinkgoT().TempDir(), "nope", "history.csv")
		Expect(CreateCSVFileWithHeaders(missing, HistoryHeaders)).NotTo(Succeed())
		Expect(AppendResultToCSV(missing, []string{"x"})).NotTo(Succeed())
	})
})
