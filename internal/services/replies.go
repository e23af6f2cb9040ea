package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

// Replies renders the chat texts sent back to users
type Replies struct {
	Currency string
}

func NewReplies(currency string) *Replies {
	if currency == "" {
		currency = "₹"
	}
	return &Replies{Currency: currency}
}

func (r *Replies) money(d decimal.Decimal) string {
	return r.Currency + d.StringFixed(2)
}

func (r *Replies) Help() string {
	return "👋 Welcome to Group Deals! Use:\n" +
		"/deals - View active deals\n" +
		"/join <deal_number> - Join a deal (e.g., /join 1)\n" +
		"/mydeals - View your deals"
}

func (r *Replies) Unknown() string {
	return "🤖 Unknown command. Type /help for options\n\n" +
		"Available commands:\n" +
		"/deals - View active deals\n" +
		"/mydeals - Your deals\n" +
		"/join [number] - Join a deal\n" +
		"/help - Show help"
}

func (r *Replies) JoinUsage() string {
	return "❗ Usage: /join <deal_number>\n\nUse /deals to see available offers."
}

func (r *Replies) CommandFailed() string {
	return "❌ Command failed. Please try again."
}

// DealList numbers deals from 1 in the order given; the numbers are the /join indexes
func (r *Replies) DealList(deals []models.Deal) string {
	if len(deals) == 0 {
		return "🚫 No active deals found."
	}
	var b strings.Builder
	b.WriteString("🔥 *Active Group Deals* 🔥\n\n")
	for i, d := range deals {
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, d.ProductName)
		fmt.Fprintf(&b, "💰 %s → %s\n", r.money(d.OriginalPrice), r.money(d.GroupPrice))
		fmt.Fprintf(&b, "👥 %d/%d joined\n", d.CurrentParticipants, d.MaxParticipants)
		fmt.Fprintf(&b, "⏰ Ends: %s\n", d.EndTime.Format("02 Jan 2006"))
		fmt.Fprintf(&b, "📱 Join: /join %d\n\n", i+1)
	}
	b.WriteString("Reply with /join [number] to participate! 🚀")
	return b.String()
}

func (r *Replies) DealListFailed() string {
	return "🚫 Error fetching deals."
}

func (r *Replies) Joined(res *JoinResult) string {
	return fmt.Sprintf("🎉 Successfully joined %s!\n💰 Price: %s\n👥 Participants: %d/%d",
		res.DealName, r.money(res.GroupPrice), res.NewCount, res.MaxParticipants)
}

// JoinFailed explains a failed join without exposing error codes
func (r *Replies) JoinFailed(err error) string {
	switch CodeOf(err) {
	case CodeInvalidDealIndex:
		return "❌ Invalid deal number. Send /deals to see available options."
	case CodeInvalidDealFormat:
		return "❌ Invalid deal format. Use /join 1 or /join <uuid>"
	case CodeDealNotFound:
		return "❌ Deal not found or not active."
	case CodeDealFull:
		return "❌ Sorry, this deal is full! Check /deals for other offers."
	case CodeAlreadyJoined:
		return "ℹ️ You've already joined this deal!"
	case CodeInsertFailed, CodeCounterUpdateFailed:
		return "❌ Failed to join deal. Please try again."
	default:
		return "❌ Something went wrong. Please try again."
	}
}

// MyDeals lists a user's enrollments; participations whose deal was deleted are skipped
func (r *Replies) MyDeals(participations []models.Participant) string {
	var b strings.Builder
	n := 0
	for _, p := range participations {
		if p.Deal == nil {
			continue
		}
		n++
		if n == 1 {
			b.WriteString("📋 *Your Deals* 📋\n\n")
		}
		fmt.Fprintf(&b, "*%d. %s*\n", n, p.Deal.ProductName)
		fmt.Fprintf(&b, "💰 Your price: %s\n", r.money(p.AmountPaid))
		fmt.Fprintf(&b, "📊 Status: %s\n", p.Deal.Status)
		fmt.Fprintf(&b, "👥 %d/%d joined (min %d)\n", p.Deal.CurrentParticipants, p.Deal.MaxParticipants, p.Deal.MinParticipants)
		fmt.Fprintf(&b, "💳 Payment: %s\n\n", p.PaymentStatus)
	}
	if n == 0 {
		return "📭 You haven't joined any deals yet! 🛍️\n\nUse /deals to see available offers."
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Replies) MyDealsFailed() string {
	return "❌ Error fetching your deals."
}

// DealFailedNotice is sent to every participant of a deal that missed its quorum
func (r *Replies) DealFailedNotice(d models.Deal) string {
	return fmt.Sprintf("😞 Sorry! The deal \"%s\" failed as only %d of %d participants joined. A refund is being initiated.",
		d.ProductName, d.CurrentParticipants, d.MinParticipants)
}

// DealSucceededNotice is sent to every participant of a deal that reached its quorum
func (r *Replies) DealSucceededNotice(d models.Deal) string {
	return fmt.Sprintf("🎉 Great news! The deal \"%s\" succeeded with %d participants. Shipping soon!",
		d.ProductName, d.CurrentParticipants)
}
