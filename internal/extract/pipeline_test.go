package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/alia-labs/lab-intake-platform/internal/session"
)

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) Recognize(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeExtractor struct {
	extraction Extraction
	err        error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (Extraction, error) {
	return f.extraction, f.err
}

func testImageBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestPipelineSuccessMergesAndResetsCounter(t *testing.T) {
	ocr := &fakeOCR{text: "GLUCOSA"}
	ext := &fakeExtractor{extraction: Extraction{Studies: []string{"Glucosa"}, InsurancePlan: "OSDE"}}
	p := NewPipeline(ocr, ext, PipelineConfig{MaxFailures: 3}, nil)

	sess := session.New("+54911")
	sess.OCRFailures = 2
	sess.InsurancePlan = "IOMA" // already supplied by the patient

	escalate, err := p.Run(context.Background(), sess, testImageBase64(t, 10, 10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if escalate {
		t.Fatal("success must not escalate")
	}
	if sess.OCRFailures != 0 {
		t.Fatalf("success should reset the failure counter, got %d", sess.OCRFailures)
	}
	if sess.InsurancePlan != "IOMA" {
		t.Fatalf("merge clobbered a populated field: %s", sess.InsurancePlan)
	}
	if len(sess.Studies) != 1 {
		t.Fatalf("expected merged studies, got %v", sess.Studies)
	}
}

func TestPipelineFailureThreshold(t *testing.T) {
	ocr := &fakeOCR{err: ErrEmptyOCR}
	p := NewPipeline(ocr, &fakeExtractor{}, PipelineConfig{MaxFailures: 3}, nil)

	sess := session.New("+54911")
	img := testImageBase64(t, 10, 10)

	for attempt := 1; attempt <= 3; attempt++ {
		escalate, err := p.Run(context.Background(), sess, img)
		if err == nil {
			t.Fatalf("attempt %d: expected failure", attempt)
		}
		wantEscalate := attempt == 3
		if escalate != wantEscalate {
			t.Fatalf("attempt %d: escalate = %v, want %v", attempt, escalate, wantEscalate)
		}
		if sess.OCRFailures != attempt {
			t.Fatalf("attempt %d: counter = %d", attempt, sess.OCRFailures)
		}
	}
}

func TestPipelineBadImage(t *testing.T) {
	p := NewPipeline(&fakeOCR{}, &fakeExtractor{}, PipelineConfig{}, nil)
	sess := session.New("+54911")

	_, err := p.Run(context.Background(), sess, "not-base64!!!")
	if !errors.Is(err, ErrBadImage) {
		t.Fatalf("expected ErrBadImage, got %v", err)
	}
	if sess.OCRFailures != 1 {
		t.Fatalf("bad image should count as a failure, got %d", sess.OCRFailures)
	}
}

func TestPipelineMalformedExtraction(t *testing.T) {
	p := NewPipeline(&fakeOCR{text: "TEXTO"}, &fakeExtractor{err: ErrMalformedOutput}, PipelineConfig{}, nil)
	sess := session.New("+54911")

	_, err := p.Run(context.Background(), sess, testImageBase64(t, 10, 10))
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
	if !IsTerminal(err) {
		t.Fatal("malformed output must be terminal")
	}
}

func TestNormalizeImageDownscales(t *testing.T) {
	out, err := NormalizeImage(testImageBase64(t, 400, 200), 100)
	if err != nil {
		t.Fatalf("NormalizeImage: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode normalized image: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("expected jpeg re-encode, got %s", format)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Fatalf("expected 100x50, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestNormalizeImageKeepsSmallImages(t *testing.T) {
	out, err := NormalizeImage(testImageBase64(t, 40, 30), 100)
	if err != nil {
		t.Fatalf("NormalizeImage: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(out)
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode normalized image: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
		t.Fatalf("small image should keep its size, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestMergeNeverOverwrites(t *testing.T) {
	sess := session.New("+54911")
	sess.Studies = []string{"Hemograma"}
	sess.MemberID = "ZZ111"

	Merge(sess, Extraction{Studies: []string{"Glucosa"}, InsurancePlan: "OSDE", MemberID: "AB1234"})

	if sess.Studies[0] != "Hemograma" {
		t.Fatalf("studies overwritten: %v", sess.Studies)
	}
	if sess.MemberID != "ZZ111" {
		t.Fatalf("member id overwritten: %s", sess.MemberID)
	}
	if sess.InsurancePlan != "OSDE" {
		t.Fatalf("empty field should be filled: %s", sess.InsurancePlan)
	}
}
