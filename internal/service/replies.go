package service

import (
	"fmt"
	"strings"
	"time"

	"chat-order-service/internal/models"
	"chat-order-service/internal/util"
)

const (
	replyDueLayout = "02 Jan 2006 15:04"
	replyDayLayout = "02 Jan"
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func md(s string) string {
	return markdownEscaper.Replace(s)
}

func replyClassificationFailed() string {
	return "⚠️ Error: AI could not process this message."
}

func replyGuidance() string {
	return "I didn't understand. Try 'Pesan...', 'Ok [ID]', 'Cancel [ID]', or 'Cek Order'."
}

func replyReview(orders []*models.Order, due *time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("📝 *Review Order:*\n")

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		price := "?"
		if o.Price > 0 {
			price = util.FormatRupiah(o.Price)
		}
		fmt.Fprintf(&b, "- [ID: %d] %dx %s (%s)\n  👤 %s\n", o.ID, o.Quantity, md(o.ItemDescription), price, md(o.ClientName))
		ids = append(ids, fmt.Sprintf("%d", o.ID))
	}

	if due != nil {
		fmt.Fprintf(&b, "\n📅 Due: %s\n", due.In(loc).Format(replyDueLayout))
	} else {
		b.WriteString("\n📅 Due: not set, please send the date before confirming\n")
	}
	fmt.Fprintf(&b, "\nReply *'Ok %s'* to confirm.", strings.Join(ids, ", "))
	return b.String()
}

func replyNoPendingOrder(orderID *int64) string {
	if orderID != nil {
		return fmt.Sprintf("❓ No pending order #%d found to confirm.", *orderID)
	}
	return "❓ No pending order found to confirm."
}

func replyMissingDueDate(o *models.Order) string {
	return fmt.Sprintf("⚠️ Order #%d has no due date yet, so it cannot be confirmed. Please send the date.", o.ID)
}

func replyConfirmed(o *models.Order, synced bool) string {
	if synced {
		return fmt.Sprintf("✅ Order #%d (%s) Confirmed & Synced!", o.ID, md(o.ItemDescription))
	}
	return fmt.Sprintf("✅ Order #%d (%s) Confirmed.\n⚠️ Calendar sync failed, it will not appear in the calendar.", o.ID, md(o.ItemDescription))
}

func replyCancelNeedsID() string {
	return "⚠️ To cancel, you must provide the ID (e.g., 'Cancel 5')."
}

func replyOrderNotFound(orderID int64) string {
	return fmt.Sprintf("❓ Could not find Order #%d.", orderID)
}

func replyAlreadyTerminal(o *models.Order) string {
	return fmt.Sprintf("ℹ️ Order #%d is already %s.", o.ID, o.Status)
}

func replyCancelled(o *models.Order, hadEvent bool) string {
	if hadEvent {
		return fmt.Sprintf("❌ Order #%d has been CANCELLED and removed from Calendar.", o.ID)
	}
	return fmt.Sprintf("❌ Order #%d has been CANCELLED.", o.ID)
}

func statusIcon(s models.OrderStatus) string {
	switch s {
	case models.OrderStatusConfirmed:
		return "✅"
	case models.OrderStatusCompleted:
		return "📦"
	default:
		return "⏳"
	}
}

// replyOrderList groups orders by due day; orders must be sorted by due date
func replyOrderList(orders []models.Order, windowDays int, loc *time.Location) string {
	if len(orders) == 0 {
		return fmt.Sprintf("📅 No active orders found for the next %d days.", windowDays)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Orders (Next %d Days):*\n", windowDays)

	lastDay := ""
	for _, o := range orders {
		if o.DueDate == nil {
			continue
		}
		day := o.DueDate.In(loc).Format(replyDayLayout)
		if day != lastDay {
			fmt.Fprintf(&b, "\n📅 *%s*\n", day)
			lastDay = day
		}
		fmt.Fprintf(&b, "[%d] %s %s - %dx %s (%s)\n",
			o.ID, o.DueDate.In(loc).Format("15:04"), md(o.ClientName), o.Quantity, md(o.ItemDescription), statusIcon(o.Status))
	}
	return strings.TrimRight(b.String(), "\n")
}
