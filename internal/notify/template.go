package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

var deliveryTemplate = template.Must(template.New("delivery").Parse(`<div style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 20px auto; padding: 20px; border: 1px solid #ddd; border-radius: 8px;">
    <h2 style="color: #0056b3; text-align: center;">Your Gift Card from {{.Brand}}</h2>
    <p>Hello,</p>
    <p>Thank you for your purchase! Here {{if gt (len .Codes) 1}}are your gift codes{{else}}is your gift code{{end}} for <strong>{{.ProductName}}</strong>.</p>
    <p>Please keep {{if gt (len .Codes) 1}}them{{else}}it{{end}} safe and do not share with others:</p>
    <div style="background-color: #f9f9f9; padding: 15px; border-left: 5px solid #0056b3; margin: 20px 0; text-align: center;">
      {{range .Codes}}<p style="font-size: 24px; font-weight: bold; letter-spacing: 2px; color: #d9534f; margin: 10px 0;">{{.}}</p>
      {{end}}
    </div>
    <p>Best regards,<br>The {{.Brand}} Team</p>
    <hr style="border: 0; border-top: 1px solid #eee; margin: 20px 0;">
    <p style="text-align: center; font-size: 12px; color: #777;">Please do not reply to this email.</p>
  </div>
</div>
`))

type deliveryView struct {
	Brand       string
	ProductName string
	Codes       []string
}

// Subject возвращает тему письма с кодами.
func Subject(productName string) string {
	return fmt.Sprintf("Your Gift Card for %s - Here's Your Gift Code!", productName)
}

func renderBody(brand, productName string, codes []string) (string, error) {
	var buf bytes.Buffer
	if err := deliveryTemplate.Execute(&buf, deliveryView{Brand: brand, ProductName: productName, Codes: codes}); err != nil {
		return "", fmt.Errorf("render delivery email: %w", err)
	}
	return buf.String(), nil
}
