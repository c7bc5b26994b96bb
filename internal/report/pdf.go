package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

const (
	PDFFilename = "Pro_Forma_Report.pdf"
	PDFSubject  = "Your CCM Financial Pro Forma"
	PDFBody     = "Please find your detailed pro forma report attached."
)

// RenderPDF lays out the pro forma as a single text column on Letter paper.
func RenderPDF(r Report) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(50, 50, 50)
	pdf.SetAutoPageBreak(true, 50)
	pdf.SetTitle("CCM Financial Pro Forma Report", true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	line := func(s string) {
		pdf.CellFormat(0, 16, tr(s), "", 1, "L", false, 0, "")
	}
	blank := func() { pdf.Ln(16) }

	pdf.SetFont("Helvetica", "B", 16)
	line("CCM Financial Pro Forma Report")
	blank()

	pdf.SetFont("Helvetica", "", 12)
	line("Providers Found:")
	for _, p := range r.Providers {
		line(fmt.Sprintf("- %s (NPI: %s) - Patients: %s", p.Name, p.NPI, count(p.TotalBeneficiaries)))
	}

	if len(r.NotFound) > 0 {
		blank()
		line("NPIs Not Found:")
		for _, npi := range r.NotFound {
			line("- " + npi)
		}
	}

	blank()
	line("Total Medicare Patients: " + count(r.Figures.TotalPatients))
	line("CCM-Eligible Patients (80%): " + count(r.Figures.EligiblePatients()))
	line("Expected Enrollment (50% of eligible): " + count(r.Figures.EnrolledPatients))
	blank()
	line("Total Annual Revenue: " + money(r.Figures.AnnualRevenue))
	line("Projected Annual Profit: " + money(r.Figures.AnnualProfit))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", err)
	}
	return buf.Bytes(), nil
}
