package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/money"
	"github.com/shopspring/decimal"
)

// Message is a rendered e-mail.
type Message struct {
	Subject string
	Body    string
}

// wording holds the per-language strings of one message kind.
type wording struct {
	subject string
	heading string
	lead    string
}

var (
	paidCopy = map[string]wording{
		"en": {"Order confirmed (order %s)", "Thank you for your order", "We have received your payment."},
		"ja": {"【注文確認】ご注文ありがとうございます（注文番号: %s）", "ご注文ありがとうございます", "お支払いを確認いたしました。"},
	}
	shippedCopy = map[string]wording{
		"en": {"Your order has shipped (order %s)", "Your order is on its way", "Your order has left our warehouse."},
		"ja": {"【発送完了】ご注文の商品を発送しました（注文番号: %s）", "商品を発送しました", "ご注文の商品を発送いたしました。"},
	}
	deliveredCopy = map[string]wording{
		"en": {"Your order was delivered (order %s)", "Your order has arrived", "Your order has been delivered. Enjoy!"},
		"ja": {"【配達完了】ご注文の商品をお届けしました（注文番号: %s）", "商品をお届けしました", "ご注文の商品の配達が完了しました。"},
	}
	cancelledCopy = map[string]wording{
		"en": {"Your order was cancelled (order %s)", "Your order was cancelled", "Your order has been cancelled."},
		"ja": {"【キャンセル】ご注文をキャンセルしました（注文番号: %s）", "ご注文をキャンセルしました", "ご注文はキャンセルされました。"},
	}
)

var labels = map[string]map[string]string{
	"en": {"order": "Order number", "total": "Total", "points": "Reward points earned", "reason": "Reason", "refund": "Refunded", "footer": "This e-mail was sent automatically. Please contact support with any questions."},
	"ja": {"order": "注文番号", "total": "合計金額", "points": "獲得ポイント", "reason": "理由", "refund": "返金額", "footer": "このメールは自動送信されています。ご不明な点がございましたら、サポートまでお問い合わせください。"},
}

func lang(code string) string {
	if strings.HasPrefix(strings.ToLower(code), "ja") {
		return "ja"
	}
	return "en"
}

func BuildOrderPaid(e order.OrderPaid) Message {
	l := lang(e.LanguageCode)
	rows := []string{row(l, "total", formatAmount(e.TotalAmount, money.Currency(e.Currency)))}
	if e.PointsEarned.IsPositive() {
		rows = append(rows, row(l, "points", e.PointsEarned.String()))
	}
	return render(paidCopy[l], l, e.OrderID, rows)
}

func BuildOrderShipped(e order.OrderShipped) Message {
	l := lang(e.LanguageCode)
	return render(shippedCopy[l], l, e.OrderID, nil)
}

func BuildOrderDelivered(e order.OrderDelivered) Message {
	l := lang(e.LanguageCode)
	return render(deliveredCopy[l], l, e.OrderID, nil)
}

func BuildOrderCancelled(e order.OrderCancelled) Message {
	l := lang(e.LanguageCode)
	var rows []string
	if e.Reason != "" {
		rows = append(rows, row(l, "reason", html.EscapeString(e.Reason)))
	}
	if e.RefundedAmount.IsPositive() {
		rows = append(rows, row(l, "refund", formatAmount(e.RefundedAmount, money.Currency(e.Currency))))
	}
	return render(cancelledCopy[l], l, e.OrderID, rows)
}

func row(l, label, value string) string {
	return fmt.Sprintf(`<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
			</tr>`, labels[l][label], value)
}

func render(c wording, l, orderID string, rows []string) Message {
	id := html.EscapeString(orderID)
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">%s</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">%s</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">%s</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<tbody>
				%s
			</tbody>
		</table>

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">%s</p>
	</div>
</body>
</html>`, c.heading, c.lead, labels[l]["order"], id, strings.Join(rows, "\n"), labels[l]["footer"])

	return Message{Subject: fmt.Sprintf(c.subject, shortID(orderID)), Body: body}
}

func shortID(orderID string) string {
	if len(orderID) > 8 {
		return orderID[:8]
	}
	return orderID
}

// formatAmount renders amount with thousands separators and the currency's
// minor-unit precision, e.g. "1,234.50 USD".
func formatAmount(amount decimal.Decimal, c money.Currency) string {
	fixed := money.Round(amount, c).StringFixed(c.Exponent())
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	out := sign + groupThousands(whole)
	if frac != "" {
		out += "." + frac
	}
	return out + " " + c.String()
}

// groupThousands formats a digit string with comma separators
func groupThousands(str string) string {
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		result.WriteString(",")
	}

	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}

	return result.String()
}
