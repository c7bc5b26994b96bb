package report

import (
	"bytes"
	"fmt"
	"html/template"
)

const SummarySubject = "Your CCM Financial Pro Forma"

var summaryTmpl = template.Must(template.New("summary").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<h2 style="color: #2c5282;">Your CCM Financial Pro Forma</h2>
<p>Thank you for using our CCM Calculator. Here are your detailed results:</p>
{{range .Providers}}
<div style="margin: 20px 0; padding: 20px; background-color: #f7fafc; border-radius: 5px;">
<h3 style="color: #2d3748;">Provider Information</h3>
<p>Name: {{or .Name "N/A"}}</p>
<p>NPI: {{or .NPI "N/A"}}</p>
<p>Total Medicare Patients: {{.Patients}}</p>
</div>
{{end}}
<div style="margin: 20px 0; padding: 20px; background-color: #f7fafc; border-radius: 5px;">
<h3 style="color: #2d3748;">CCM Program Metrics</h3>
<p>Medicare Patients: {{.TotalPatients}}</p>
<p>CCM-Eligible Patients (80%): {{.Eligible}}</p>
<p>Expected Enrollment (50% of eligible): {{.Enrolled}}</p>
</div>
<div style="margin: 20px 0; padding: 20px; background-color: #f7fafc; border-radius: 5px;">
<h3 style="color: #2d3748;">Financial Projections</h3>
<p>Revenue Per Visit: {{.RevenuePerVisit}}</p>
<p>Average Visits Per Year: {{.VisitsPerYear}}</p>
<p>Annual Revenue Per Patient: {{.RevenuePerPatient}}</p>
<p>Total Annual Revenue: {{.Revenue}}</p>
<p>Profit Margin: {{.Margin}}</p>
<p>Projected Annual Profit: {{.Profit}}</p>
</div>
<div style="margin: 20px 0; padding: 20px; background-color: #f7fafc; border-radius: 5px;">
<h3 style="color: #2d3748;">Program Assumptions</h3>
<ul>
<li>80% of Medicare patients typically qualify for CCM</li>
<li>50% average enrollment rate with proper implementation</li>
<li>{{.RevenuePerVisit}} average reimbursement per billable event</li>
<li>{{.VisitsPerYear}} billable events per year per patient</li>
<li>{{.Margin}} profit margin with turnkey solution</li>
</ul>
</div>
<p style="margin-top: 30px;">For more information about implementing a successful CCM program, please contact our team.</p>
</body>
</html>
`))

type summaryProvider struct {
	Name     string
	NPI      string
	Patients string
}

type summaryView struct {
	Providers         []summaryProvider
	TotalPatients     string
	Eligible          string
	Enrolled          string
	RevenuePerVisit   string
	VisitsPerYear     int
	RevenuePerPatient string
	Revenue           string
	Margin            string
	Profit            string
}

// RenderSummaryHTML renders the summary email body.
func RenderSummaryHTML(r Report) (string, error) {
	v := summaryView{
		TotalPatients:     count(r.Figures.TotalPatients),
		Eligible:          count(r.Figures.EligiblePatients()),
		Enrolled:          count(r.Figures.EnrolledPatients),
		RevenuePerVisit:   fmt.Sprintf("$%d", RevenuePerVisit),
		VisitsPerYear:     VisitsPerYear,
		RevenuePerPatient: fmt.Sprintf("$%d", RevenuePerVisit*VisitsPerYear),
		Revenue:           money(r.Figures.AnnualRevenue),
		Margin:            fmt.Sprintf("%d%%", int(ProfitMargin*100)),
		Profit:            money(r.Figures.AnnualProfit),
	}
	for _, p := range r.Providers {
		v.Providers = append(v.Providers, summaryProvider{
			Name:     p.Name,
			NPI:      p.NPI,
			Patients: count(p.TotalBeneficiaries),
		})
	}

	var buf bytes.Buffer
	if err := summaryTmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("rendering summary: %w", err)
	}
	return buf.String(), nil
}
