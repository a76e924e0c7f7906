package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nixo.app/triage/internal/model"
)

func run(args ...string) ([]byte, error) {
	buf := new(bytes.Buffer)
	root := newRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.Bytes(), err
}

var _ = Describe("score", func() {
	decode := func(out []byte) scoreOutput {
		var got scoreOutput
		Expect(json.Unmarshal(out, &got)).To(Succeed())
		return got
	}

	It("matches a close, recent ticket in the same channel", func() {
		out, err := run("score", "--distance", "0", "--same-category", "--same-channel", "--minutes", "1", "--overlap", "1")
		Expect(err).NotTo(HaveOccurred())

		got := decode(out)
		Expect(got.Score.Total).To(BeNumerically("==", 1))
		Expect(got.Score.RecentUpdate).To(BeTrue())
		Expect(got.Blocked).To(BeFalse())
		Expect(got.Matched).To(BeTrue())
		Expect(got.GrayZone).To(BeFalse())
	})

	It("blocks a distant pair from another category", func() {
		out, err := run("score", "--distance", "1.2", "--same-channel", "--minutes", "30")
		Expect(err).NotTo(HaveOccurred())

		got := decode(out)
		Expect(got.Blocked).To(BeTrue())
		Expect(got.Matched).To(BeFalse())
	})

	It("computes overlap from signals when not given", func() {
		out, err := run("score", "--distance", "0.1", "--same-channel",
			"--signals", "checkout", "--ticket-signals", "checkout")
		Expect(err).NotTo(HaveOccurred())
		Expect(decode(out).Score.SignalOverlap).To(Equal(1))
	})

	It("applies a tuning file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "tuning.yaml")
		Expect(os.WriteFile(path, []byte("score_threshold: 0.99\n"), 0o600)).To(Succeed())

		out, err := run("score", "--distance", "0.2", "--same-category", "--tuning", path)
		Expect(err).NotTo(HaveOccurred())
		Expect(decode(out).Threshold).To(Equal(0.99))
	})

	It("rejects an invalid tuning file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "tuning.yaml")
		Expect(os.WriteFile(path, []byte("score_treshold: 0.5\n"), 0o600)).To(Succeed())

		_, err := run("score", "--tuning", path)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("classify", func() {
	It("prints the fallback classification offline", func() {
		out, err := run("classify", "--offline", "anyone", "around?")
		Expect(err).NotTo(HaveOccurred())

		var got model.Classification
		Expect(json.Unmarshal(out, &got)).To(Succeed())
		Expect(got.IsRelevant).To(BeFalse())
		Expect(got.Category).To(Equal(model.CategoryIrrelevant))
		Expect(got.ShortTitle).To(Equal("anyone around?"))
	})
})

var _ = Describe("fingerprint", func() {
	It("prints normalized text and signals", func() {
		out, err := run("fingerprint", "  The login page is BROKEN  ")
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(out, &got)).To(Succeed())
		Expect(got).To(HaveKeyWithValue("normalized", "the login page is broken"))
		Expect(got).To(HaveKey("signals"))
		Expect(got).To(HaveKey("canonical_key"))
		Expect(got).To(HaveKey("intent"))
	})

	It("requires text", func() {
		_, err := run("fingerprint")
		Expect(err).To(HaveOccurred())
	})
})
