package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lotsync/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendDigest 发送库存摘要邮件。
func (n *EmailNotifier) SendDigest(ctx context.Context, digest *Digest) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip digest")
		return nil
	}
	if strings.TrimSpace(n.cfg.DigestTo) == "" {
		n.logger.Warn("digest recipient empty, skip digest")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.DigestTo)
	m.SetHeader("Subject", "[LotSync] Inventory Digest")

	body := n.buildHTMLBody(digest)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send digest email: %w", err)
	}

	n.logger.Info("digest email sent", slog.String("to", n.cfg.DigestTo))
	return nil
}

func (n *EmailNotifier) buildHTMLBody(digest *Digest) string {
	var b strings.Builder

	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 680px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  table { width: 100%; border-collapse: collapse; margin-bottom: 16px; }
  th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #e5e7eb; font-size: 13px; }
  th { color: #6b7280; font-weight: normal; }
  .big { font-size: 22px; font-weight: bold; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[LotSync] Inventory Digest</div>
    <div class="content">
`)

	if s := digest.Summary; s != nil {
		fmt.Fprintf(&b, `      <div class="big">%d vehicles on the lot</div>
      <table>
        <tr><th>New</th><th>Used</th><th>Priced</th><th>Missing price</th><th>Avg price</th><th>Total value</th></tr>
        <tr><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>$%s</td><td>$%s</td></tr>
      </table>
`, s.TotalActive, s.NewCount, s.UsedCount, s.WithPrice, s.MissingPrice,
			formatUSD(int(s.AvgPrice)), formatUSD(s.TotalValue))
	}

	if len(digest.Aging) > 0 {
		b.WriteString("      <h3>Recently sold</h3>\n      <table>\n        <tr><th>Vehicle</th><th>VIN</th><th>Days listed</th></tr>\n")
		limit := len(digest.Aging)
		if limit > 10 {
			limit = 10
		}
		for _, e := range digest.Aging[:limit] {
			fmt.Fprintf(&b, "        <tr><td>%s</td><td>%s</td><td>%d</td></tr>\n", e.Title, e.VIN, e.DaysListed)
		}
		b.WriteString("      </table>\n")
	}

	if len(digest.Benchmarks) > 0 {
		b.WriteString("      <h3>Turn benchmarks</h3>\n      <table>\n        <tr><th>Model</th><th>Sold</th><th>Avg days</th><th>Avg price</th></tr>\n")
		limit := len(digest.Benchmarks)
		if limit > 10 {
			limit = 10
		}
		for _, bm := range digest.Benchmarks[:limit] {
			fmt.Fprintf(&b, "        <tr><td>%s %s</td><td>%d</td><td>%.0f</td><td>$%s</td></tr>\n",
				bm.Make, bm.Model, bm.Sold, bm.AvgDays, formatUSD(int(bm.AvgPrice)))
		}
		b.WriteString("      </table>\n")
	}

	b.WriteString(`      <div class="footer">Sent by LotSync.</div>
    </div>
  </div>
</body>
</html>`)

	return b.String()
}

func formatUSD(v int) string {
	s := fmt.Sprintf("%d", v)
	n := len(s)
	if n <= 3 {
		return s
	}
	out := make([]byte, 0, n+2)
	for i, ch := range []byte(s) {
		out = append(out, ch)
		if (n-i-1)%3 == 0 && i != n-1 {
			out = append(out, ',')
		}
	}
	return string(out)
}
