package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/notify"
	"sith/backend/internal/store"
)

const dumpSaleLabel = "Inactive account dump"

type DumpReport struct {
	DryRun      bool    `json:"dry_run"`
	Warned      []int64 `json:"warned,omitempty"`
	MailErrors  []int64 `json:"mail_errors,omitempty"`
	Dumped      []int64 `json:"dumped,omitempty"`
	Reactivated []int64 `json:"reactivated,omitempty"`
}

// WarnInactiveAccounts mails the customers whose money has been sleeping
// for too long and records that they were warned.
func (s *Service) WarnInactiveAccounts(ctx context.Context, dryRun bool) (DumpReport, error) {
	report := DumpReport{DryRun: dryRun}
	now := s.now()
	candidates, err := s.repo.ListDumpCandidates(ctx, now.Add(-s.settings.DumpThreshold))
	if err != nil {
		return report, err
	}
	for _, c := range candidates {
		report.Warned = append(report.Warned, c.Customer.UserID)
		if dryRun {
			continue
		}
		mailErr := s.sendMail(ctx, notify.Message{
			To:      c.User.Email,
			Subject: "Your AE account is about to be emptied",
			Body: fmt.Sprintf(
				"Hello %s,\n\nYour AE account %s holds %s EUR and has not been used for a long time.\n"+
					"Without any activity within %d days, the remaining balance will be collected by the association.\n",
				c.User.DisplayName(), c.Customer.AccountID, c.Customer.Balance, int(s.settings.DumpDelta.Hours()/24)),
		})
		if mailErr != nil {
			report.MailErrors = append(report.MailErrors, c.Customer.UserID)
		}
		if _, err := s.repo.CreateAccountDump(ctx, domain.AccountDump{
			CustomerID:        c.Customer.UserID,
			WarningMailSentAt: now,
			WarningMailError:  mailErr != nil,
		}); err != nil && !errors.Is(err, store.ErrConflict) {
			return report, err
		}
	}
	s.log.Info("inactive accounts warned", zap.Int("count", len(report.Warned)), zap.Int("mail_errors", len(report.MailErrors)), zap.Bool("dry_run", dryRun))
	return report, nil
}

// reactivated reports whether the customer used their account after the
// warning was sent.
func (s *Service) reactivated(ctx context.Context, dump domain.AccountDump, user domain.User) (bool, error) {
	if user.Subscribed {
		return true, nil
	}
	since := dump.WarningMailSentAt
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{CustomerID: dump.CustomerID, Since: &since, Limit: 1})
	if err != nil {
		return false, err
	}
	if len(sales) > 0 {
		return true, nil
	}
	refills, err := s.repo.ListRefills(ctx, domain.RefillFilter{CustomerID: dump.CustomerID, Since: &since, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(refills) > 0, nil
}

// DumpAccounts collects the balance of every customer warned long enough ago
// who did not come back.
func (s *Service) DumpAccounts(ctx context.Context, dryRun bool) (DumpReport, error) {
	report := DumpReport{DryRun: dryRun}
	dumps, err := s.repo.ListPendingAccountDumps(ctx, s.now().Add(-s.settings.DumpDelta))
	if err != nil {
		return report, err
	}
	for _, dump := range dumps {
		user, err := s.repo.GetUser(ctx, dump.CustomerID)
		if err != nil {
			return report, notFound(err, "user")
		}
		back, err := s.reactivated(ctx, dump, *user)
		if err != nil {
			return report, err
		}
		if back {
			report.Reactivated = append(report.Reactivated, dump.CustomerID)
			if !dryRun {
				if err := s.repo.DeleteAccountDump(ctx, dump.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
					return report, err
				}
			}
			continue
		}

		report.Dumped = append(report.Dumped, dump.CustomerID)
		if dryRun {
			continue
		}
		sale, err := s.repo.DumpAccount(ctx, dump.ID, domain.Sale{
			Label:       dumpSaleLabel,
			CounterID:   s.settings.DumpCounterID,
			ClubID:      s.settings.MainClubID,
			Date:        s.now(),
			IsValidated: true,
		})
		if err != nil {
			return report, err
		}
		s.log.Info("inactive account dumped", zap.Int64("customer_id", dump.CustomerID), zap.Int64("sale_id", sale.ID), zap.String("amount", sale.UnitPrice.String()))
		_ = s.sendMail(ctx, notify.Message{
			To:      user.Email,
			Subject: "Your AE account has been emptied",
			Body: fmt.Sprintf("Hello %s,\n\nThe %s EUR left on your inactive AE account have been collected by the association.\n",
				user.DisplayName(), sale.UnitPrice),
		})
	}
	s.log.Info("account dump finished", zap.Int("dumped", len(report.Dumped)), zap.Int("reactivated", len(report.Reactivated)), zap.Bool("dry_run", dryRun))
	return report, nil
}
