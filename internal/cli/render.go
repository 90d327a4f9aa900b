package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/payment"
	"github.com/roach88/refledger/internal/referral"
	"github.com/roach88/refledger/internal/stats"
)

// errWriter keeps the first write error so renderers can print freely.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

type field struct {
	key, value string
}

// fields prints "key:  value" lines with values aligned.
func (ew *errWriter) fields(indent string, fs []field) {
	width := 0
	for _, f := range fs {
		if len(f.key) > width {
			width = len(f.key)
		}
	}
	for _, f := range fs {
		ew.printf("%s%-*s  %s\n", indent, width+1, f.key+":", f.value)
	}
}

func userHeader(u model.User) string {
	if name := u.DisplayName(); name != "" {
		return fmt.Sprintf("User %d (%s)", u.ID, name)
	}
	return fmt.Sprintf("User %d", u.ID)
}

func referrerName(id model.UserID, username string) string {
	if username != "" {
		return "@" + username
	}
	return fmt.Sprintf("user %d", id)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// userView is the output of register.
type userView struct {
	model.User
	Created bool   `json:"created"`
	Link    string `json:"link,omitempty"`
}

func renderUser(w io.Writer, v userView) error {
	ew := &errWriter{w: w}
	ew.printf("%s\n", userHeader(v.User))
	fs := []field{
		{"referral code", v.ReferralCode},
		{"registered", formatTime(v.RegisteredAt)},
	}
	if !v.Created {
		fs = append(fs, field{"status", "existing"})
	}
	if v.Link != "" {
		fs = append(fs, field{"link", v.Link})
	}
	ew.fields("  ", fs)
	return ew.err
}

func renderAttribution(w io.Writer, a referral.Attribution) error {
	ew := &errWriter{w: w}
	fs := []field{{"status", string(a.Status)}}
	if a.ReferrerID != 0 {
		fs = append(fs, field{"referrer", strconv.FormatInt(int64(a.ReferrerID), 10)})
	}
	ew.fields("", fs)
	return ew.err
}

func renderResolution(w io.Writer, r referral.Resolution) error {
	ew := &errWriter{w: w}
	fs := []field{{"status", string(r.Status)}}
	if r.Referral != nil {
		fs = append(fs, field{"referrer", strconv.FormatInt(int64(r.Referral.ReferrerID), 10)})
	}
	ew.fields("", fs)
	return ew.err
}

func paymentStatus(r payment.Result) string {
	switch {
	case r.Duplicate:
		return "duplicate"
	case r.ReferrerFound:
		return "credited"
	default:
		return "no_referrer"
	}
}

func renderPayment(w io.Writer, r payment.Result) error {
	ew := &errWriter{w: w}
	fs := []field{{"status", paymentStatus(r)}}
	if r.SubjectID != 0 {
		fs = append(fs, field{"subject", strconv.FormatInt(int64(r.SubjectID), 10)})
	}
	if r.ReferrerFound {
		fs = append(fs,
			field{"referrer", strconv.FormatInt(int64(r.ReferrerID), 10)},
			field{"commission", r.Commission.String()},
			field{"earning", r.EarningID},
		)
	}
	ew.fields("", fs)
	return ew.err
}

func renderReport(w io.Writer, rep stats.Report) error {
	ew := &errWriter{w: w}
	switch rep.Kind {
	case stats.KindReferrer:
		ew.printf("Referrer %d\n", rep.Scope.ReferrerID)
		ew.fields("  ", []field{
			{"invited", strconv.Itoa(*rep.Invited)},
			{"earnings", strconv.Itoa(rep.Aggregate.Count)},
			{"commission", rep.Aggregate.Total.String()},
		})
		writeBreakdown(ew, rep.Breakdown)
	case stats.KindSubscriptionType:
		ew.printf("Subscription type %s\n", rep.Scope.SubscriptionType)
		ew.fields("  ", []field{
			{"earnings", strconv.Itoa(rep.Aggregate.Count)},
			{"commission", rep.Aggregate.Total.String()},
		})
		writeRanking(ew, rep.Ranking)
	case stats.KindTop:
		ew.printf("Top referrers\n")
		writeRanking(ew, rep.Ranking)
	default:
		t := rep.Totals
		ew.printf("Totals\n")
		ew.fields("  ", []field{
			{"users", strconv.Itoa(t.Users)},
			{"referrals", strconv.Itoa(t.Referrals)},
			{"pending", strconv.Itoa(t.Pending)},
			{"referrers", strconv.Itoa(t.Referrers)},
			{"paying referred", strconv.Itoa(t.PaidReferred)},
			{"earnings", strconv.Itoa(t.Earnings)},
			{"commission", t.Commission.String()},
		})
		writeBreakdown(ew, rep.Breakdown)
	}
	return ew.err
}

func writeBreakdown(ew *errWriter, rows []model.TypeBreakdown) {
	if len(rows) == 0 {
		return
	}
	ew.printf("  by subscription type:\n")
	for _, b := range rows {
		ew.printf("    %-16s %5d %12s\n", b.SubscriptionType, b.Count, b.Total)
	}
}

func writeRanking(ew *errWriter, rows []model.RankedReferrer) {
	if len(rows) == 0 {
		ew.printf("  no earnings yet\n")
		return
	}
	for i, r := range rows {
		ew.printf("  %2d. %-20s %5d %12s\n", i+1, referrerName(r.ReferrerID, r.Username), r.Count, r.Total)
	}
}

func renderOverview(w io.Writer, ov stats.Overview) error {
	ew := &errWriter{w: w}
	ew.printf("%s\n", userHeader(ov.User))

	referredBy := "nobody"
	if ov.ReferredBy != nil {
		referredBy = strconv.FormatInt(int64(ov.ReferredBy.ReferrerID), 10)
	}
	fs := []field{
		{"referral code", ov.User.ReferralCode},
		{"referred by", referredBy},
	}
	if ov.Pending != nil {
		fs = append(fs, field{"pending referrer", fmt.Sprintf("%d since %s", ov.Pending.ReferrerID, formatTime(ov.Pending.CreatedAt))})
	}
	fs = append(fs,
		field{"invited", strconv.Itoa(len(ov.Invited))},
		field{"earnings", strconv.Itoa(ov.Earnings.Count)},
		field{"commission", ov.Earnings.Total.String()},
	)
	ew.fields("  ", fs)

	if len(ov.Recent) > 0 {
		ew.printf("  recent:\n")
		for _, e := range ov.Recent {
			ew.printf("    %s  %-12s %-8s from %-10d %10s\n",
				formatTime(e.CreatedAt), e.SubscriptionType, e.PaymentMethod, e.ReferredID, e.Amount)
		}
	}
	return ew.err
}
