package parsing

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestPDF writes a one-page PDF with a line of Helvetica text, a large
// image, an image nested inside it and a tiny image.
func writeTestPDF(t *testing.T) string {
	t.Helper()
	return writePDF(t, "",
		"BT /F1 12 Tf 72 700 Td (Hello World) Tj ET",
		"q 200 0 0 150 100 300 cm /Im1 Do Q",
		"q 50 0 0 50 150 350 cm /Im2 Do Q",
		"q 20 0 0 20 400 100 cm /Im3 Do Q",
	)
}

// writePDF writes a one-page US Letter PDF. pageAttrs is added to the page
// dictionary, e.g. "/CropBox [...]" or "/Rotate 90". Content may draw /F1
// (Helvetica, every glyph 600 units wide) and the gray images /Im1 (120x120),
// /Im2 (110x110) and /Im3 (10x10).
func writePDF(t *testing.T, pageAttrs string, content ...string) string {
	t.Helper()

	widths := strings.TrimSpace(strings.Repeat("600 ", 95))
	stream := strings.Join(content, "\n")

	image := func(w, h int) string {
		data := bytes.Repeat([]byte{0x80}, w*h)
		return fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /Length %d >>\nstream\n%s\nendstream",
			w, h, len(data), data)
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R %s /Resources << /Font << /F1 4 0 R >> /XObject << /Im1 6 0 R /Im2 7 0 R /Im3 8 0 R >> >> /Contents 5 0 R >>", pageAttrs),
		fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>", widths),
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		image(120, 120),
		image(110, 110),
		image(10, 10),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "manual.pdf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
