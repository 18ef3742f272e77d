package email

import (
	"fmt"
	"strings"

	"github.com/example/settlement-core/internal/money"
)

func amount(cents int64, currency string) string {
	return money.New(cents, currency).String()
}

// OrderConfirmation is sent when an order is placed.
func OrderConfirmation(name, orderNumber string, total int64, currency string) (string, string) {
	subject := fmt.Sprintf("Order %s received", orderNumber)
	body := fmt.Sprintf(
		"Hi %s,\n\nThanks for your order %s.\n\nTotal: %s\n\nWe'll let you know as soon as your items are ready.\n",
		name, orderNumber, amount(total, currency),
	)
	return subject, body
}

// DeliveryReady is sent when an order's items are fulfilled.
func DeliveryReady(name, orderNumber string, links []string, licenseKeys []string) (string, string) {
	subject := fmt.Sprintf("Your order %s is ready", orderNumber)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nYour order %s has been delivered.\n", name, orderNumber)
	if len(links) > 0 {
		b.WriteString("\nDownloads:\n")
		for _, l := range links {
			fmt.Fprintf(&b, "  %s\n", l)
		}
	}
	if len(licenseKeys) > 0 {
		b.WriteString("\nLicense keys:\n")
		for _, k := range licenseKeys {
			fmt.Fprintf(&b, "  %s\n", k)
		}
	}
	b.WriteString("\nDownload links expire; grab your files soon.\n")
	return subject, b.String()
}

// PaymentFailed is sent when a charge is declined.
func PaymentFailed(name, orderNumber, reason string) (string, string) {
	subject := fmt.Sprintf("Payment failed for order %s", orderNumber)
	body := fmt.Sprintf(
		"Hi %s,\n\nWe couldn't take payment for order %s (%s).\nPlease check your payment details and try again.\n",
		name, orderNumber, reason,
	)
	return subject, body
}

// RefundProcessed is sent when money goes back to the buyer.
func RefundProcessed(name, orderNumber string, total int64, currency string) (string, string) {
	subject := fmt.Sprintf("Refund for order %s", orderNumber)
	body := fmt.Sprintf(
		"Hi %s,\n\nYour refund of %s for order %s has been processed.\nDepending on your bank it can take a few days to reflect.\n",
		name, amount(total, currency), orderNumber,
	)
	return subject, body
}

// DisputeUpdate is sent when a dispute changes state.
func DisputeUpdate(name, reference, status string) (string, string) {
	subject := fmt.Sprintf("Update on dispute %s", reference)
	body := fmt.Sprintf(
		"Hi %s,\n\nYour dispute %s is now %s.\nWe'll keep you posted on any further changes.\n",
		name, reference, strings.ReplaceAll(status, "_", " "),
	)
	return subject, body
}

// SubscriptionRenewed is sent after a successful billing cycle.
func SubscriptionRenewed(name, planName string, cycleAmount int64, currency, periodEnd string) (string, string) {
	subject := fmt.Sprintf("%s renewed", planName)
	body := fmt.Sprintf(
		"Hi %s,\n\nYour %s subscription renewed for %s.\nYour plan is paid up until %s.\n",
		name, planName, amount(cycleAmount, currency), periodEnd,
	)
	return subject, body
}

// SubscriptionPaymentFailed warns the buyer about a failed renewal charge.
func SubscriptionPaymentFailed(name, planName string, attempt, maxAttempts int) (string, string) {
	subject := fmt.Sprintf("Payment problem with your %s subscription", planName)
	body := fmt.Sprintf(
		"Hi %s,\n\nWe couldn't renew your %s subscription (attempt %d of %d).\nPlease update your payment details to keep your access.\n",
		name, planName, attempt, maxAttempts,
	)
	return subject, body
}
