package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func samplePNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Preprocessor", func() {
	var (
		dir      string
		opts     []PreprocessorOption
		pre      *Preprocessor
		input    []byte
		artifact *Artifact
		err      error
	)

	BeforeEach(func() {
		dir = filepath.Join(GinkgoT().TempDir(), "artifacts")
		opts = nil
		input = samplePNG(40, 30)
	})

	JustBeforeEach(func() {
		var newErr error
		pre, newErr = NewPreprocessor(dir, opts...)
		Expect(newErr).NotTo(HaveOccurred())
		artifact, err = pre.Preprocess(input)
	})

	AfterEach(func() {
		artifact.Release()
	})

	It("should create the artifact directory", func() {
		Expect(dir).To(BeADirectory())
	})

	When("given a small image", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should write the intermediate file", func() {
			Expect(artifact.Path).To(BeAnExistingFile())
			Expect(filepath.Dir(artifact.Path)).To(Equal(dir))
		})

		It("should upscale it to the minimum height", func() {
			cfg, err := png.DecodeConfig(bytes.NewReader(artifact.Data))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Height).To(Equal(defaultMinHeight))
			Expect(cfg.Width).To(Equal(1600))
		})

		It("should remove the file on release", func() {
			path := artifact.Path
			artifact.Release()
			_, statErr := os.Stat(path)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	})

	When("upscaling is disabled", func() {
		BeforeEach(func() {
			opts = []PreprocessorOption{WithMinHeight(0), WithContrast(0), WithSharpen(0)}
		})

		It("should keep the original dimensions", func() {
			Expect(err).NotTo(HaveOccurred())
			cfg, err := png.DecodeConfig(bytes.NewReader(artifact.Data))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Width).To(Equal(40))
			Expect(cfg.Height).To(Equal(30))
		})
	})

	When("the bytes are not an image", func() {
		BeforeEach(func() {
			input = []byte("definitely not an image")
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(artifact).To(BeNil())
		})

		It("should not leave files behind", func() {
			entries, readErr := os.ReadDir(dir)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})
})
