package service

import (
	"encoding/json"
	"errors"

	"pokerclub/internal/model"

	"github.com/shopspring/decimal"
)

func (s *ServiceSuite) TestDepositWithdrawRoundTripIsExact() {
	p := s.newPlayer("123.45", "0")

	_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeDeposit, dec("500.00"), nil)
	s.Require().NoError(err)
	after, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeWithdrawal, dec("500.00"), nil)
	s.Require().NoError(err)

	s.requireMoney("123.45", after.CashBalance)
	s.requireMoney("123.45", s.player(p.AppID).CashBalance)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestRepeatedSmallAmountsDoNotDrift() {
	p := s.newPlayer("0", "0")
	for i := 0; i < 10; i++ {
		_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeDeposit, dec("0.10"), nil)
		s.Require().NoError(err)
	}
	s.requireMoney("1.00", s.player(p.AppID).CashBalance)

	for i := 0; i < 3; i++ {
		_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeLoss, dec("0.30"), nil)
		s.Require().NoError(err)
	}
	s.requireMoney("0.10", s.player(p.AppID).CashBalance)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestWithdrawalBeyondOverdraftRejected() {
	p := s.newPlayer("100.00", "0")
	before := s.countTransactions(p.AppID)

	_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeWithdrawal, dec("100.01"), nil)
	s.ErrorIs(err, model.ErrInsufficientFunds)
	s.requireMoney("100.00", s.player(p.AppID).CashBalance)
	s.Equal(before, s.countTransactions(p.AppID))
}

func (s *ServiceSuite) TestOverdraftAllowsNegativeCash() {
	s.cfg.Business.OverdraftLimit = "50"
	ledger := NewLedgerService(s.db, nil, s.clock, s.cfg)
	p := s.newPlayer("10.00", "0")

	after, err := ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeWithdrawal, dec("60.00"), nil)
	s.Require().NoError(err)
	s.requireMoney("-50.00", after.CashBalance)

	_, err = ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeLoss, dec("0.01"), nil)
	s.ErrorIs(err, model.ErrInsufficientFunds)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestApplyTransactionValidation() {
	p := s.newPlayer("10.00", "0")

	_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, "bonus", dec("1"), nil)
	s.ErrorIs(err, model.ErrInvalidTransactionType)

	_, err = s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeDeposit, decimal.Zero, nil)
	s.ErrorIs(err, model.ErrInvalidAmount)

	_, err = s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeDeposit, dec("-5"), nil)
	s.ErrorIs(err, model.ErrInvalidAmount)

	_, err = s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeDeposit, dec("1.005"), nil)
	s.ErrorIs(err, model.ErrInvalidAmount)

	_, err = s.ledger.ApplyTransaction(s.ctx, 9999, model.TransactionTypeDeposit, dec("1"), nil)
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *ServiceSuite) TestBuyInDrawsCashBeforeCredit() {
	p := s.newPlayer("1000.00", "500.00")
	staff := "cashier-1"

	after, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeBuyIn, dec("1200.00"), &staff)
	s.Require().NoError(err)

	s.requireMoney("0.00", after.CashBalance)
	s.requireMoney("200.00", after.CreditBalance)
	s.requireMoney("1000.00", after.TableCash)
	s.requireMoney("200.00", after.TableCredit)

	balance, err := s.ledger.GetBalance(s.ctx, p.AppID)
	s.Require().NoError(err)
	s.requireMoney("300.00", balance.AvailableCredit)
	s.requireMoney("1200.00", balance.TableBalance.Total)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestBuyInBeyondCashPlusCreditRejected() {
	p := s.newPlayer("100.00", "50.00")
	_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeBuyIn, dec("150.01"), nil)
	s.ErrorIs(err, model.ErrInsufficientFunds)

	_, err = s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeBuyIn, dec("150.00"), nil)
	s.NoError(err)
}

func (s *ServiceSuite) TestCashOutRepaysTableCreditFirst() {
	p := s.newPlayer("1000.00", "500.00")
	_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeBuyIn, dec("1200.00"), nil)
	s.Require().NoError(err)

	after, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeCashOut, dec("1500.00"), nil)
	s.Require().NoError(err)

	s.requireMoney("1300.00", after.CashBalance)
	s.requireMoney("0.00", after.CreditBalance)
	s.requireMoney("0.00", after.TableCash)
	s.requireMoney("0.00", after.TableCredit)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestCreditAndDebit() {
	p := s.newPlayer("0", "300.00")

	after, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeCredit, dec("200.00"), nil)
	s.Require().NoError(err)
	s.requireMoney("200.00", after.CashBalance)
	s.requireMoney("200.00", after.CreditBalance)
	s.requireMoney("200.00", after.CreditApproved)

	_, err = s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeCredit, dec("100.01"), nil)
	s.ErrorIs(err, model.ErrCreditLimitExceeded)

	_, err = s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeDebit, dec("200.01"), nil)
	s.ErrorIs(err, model.ErrInvalidAmount)

	after, err = s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeDebit, dec("150.00"), nil)
	s.Require().NoError(err)
	s.requireMoney("50.00", after.CashBalance)
	s.requireMoney("50.00", after.CreditBalance)
	s.requireMoney("200.00", after.CreditApproved)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestSetCreditLimit() {
	p := s.newPlayer("0", "300.00")
	_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeCredit, dec("200.00"), nil)
	s.Require().NoError(err)

	_, err = s.ledger.SetCreditLimit(s.ctx, p.AppID, dec("199.99"), "cashier-1")
	s.ErrorIs(err, model.ErrCreditLimitExceeded)

	_, err = s.ledger.SetCreditLimit(s.ctx, p.AppID, dec("-1"), "cashier-1")
	s.ErrorIs(err, model.ErrInvalidAmount)

	updated, err := s.ledger.SetCreditLimit(s.ctx, p.AppID, dec("200.00"), "cashier-1")
	s.Require().NoError(err)
	s.requireMoney("200.00", updated.CreditLimit)
	s.requireMoney("0", updated.AvailableCredit())
}

// 各类交易混合后，缓存余额仍等于流水之和
func (s *ServiceSuite) TestCachedBalanceEqualsFoldOfTransactions() {
	p := s.newPlayer("750.00", "400.00")
	steps := []struct {
		kind   string
		amount string
	}{
		{model.TransactionTypeBuyIn, "1000.00"},
		{model.TransactionTypeWin, "35.50"},
		{model.TransactionTypeCashOut, "600.00"},
		{model.TransactionTypeCredit, "100.00"},
		{model.TransactionTypeLoss, "20.25"},
		{model.TransactionTypeDebit, "50.00"},
		{model.TransactionTypeBuyIn, "300.00"},
		{model.TransactionTypeCashOut, "1234.56"},
		{model.TransactionTypeWithdrawal, "10.00"},
	}
	for _, step := range steps {
		_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, step.kind, dec(step.amount), nil)
		s.Require().NoError(err, "%s %s", step.kind, step.amount)
	}

	report, err := s.ledger.VerifyLedger(s.ctx, p.AppID)
	s.Require().NoError(err)
	s.True(report.Consistent)
	s.Zero(report.FirstMismatchID)

	current := s.player(p.AppID)
	s.requireMoney(current.CashBalance.String(), report.FoldedCash)
	s.requireMoney(current.CreditBalance.String(), report.FoldedCredit)
	s.Equal(len(steps)+1, report.TransactionCount)
}

func (s *ServiceSuite) TestVerifyLedgerDetectsTampering() {
	p := s.newPlayer("100.00", "0")
	s.Require().NoError(s.db.Model(&model.Player{}).Where("app_id = ?", p.AppID).
		Update("cash_balance", dec("90.00")).Error)

	report, err := s.ledger.VerifyLedger(s.ctx, p.AppID)
	s.Require().NoError(err)
	s.False(report.Consistent)

	mismatches, checked, err := s.ledger.VerifyAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, checked)
	s.Len(mismatches, 1)
}

func (s *ServiceSuite) TestLedgerEmitsBalanceChanged() {
	p := s.newPlayer("0", "0")
	_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeDeposit, dec("42.00"), nil)
	s.Require().NoError(err)

	msgs, err := s.outbox.ListByChannel(s.ctx, model.PlayerChannel(p.AppID))
	s.Require().NoError(err)
	s.Require().NotEmpty(msgs)

	last := msgs[len(msgs)-1]
	s.Equal(model.EventBalanceChanged, last.Event)
	s.Equal(model.OutboxStatusPending, last.Status)

	var payload balanceEvent
	s.Require().NoError(json.Unmarshal(last.Payload, &payload))
	s.Equal(p.AppID, payload.AppID)
	s.requireMoney("42.00", payload.CashBalance)
	s.NotEmpty(payload.TransactionNo)
}

func (s *ServiceSuite) TestListTransactionsNewestFirst() {
	p := s.newPlayer("10.00", "0")
	_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeWin, dec("5.00"), nil)
	s.Require().NoError(err)

	list, total, err := s.ledger.ListTransactions(s.ctx, p.AppID, 1, 10)
	s.Require().NoError(err)
	s.EqualValues(2, total)
	s.Require().Len(list, 2)
	s.Equal(model.TransactionTypeWin, list[0].Type)
	s.requireMoney("15.00", list[0].ResultingBalance)

	_, _, err = s.ledger.ListTransactions(s.ctx, 424242, 1, 10)
	s.True(errors.Is(err, model.ErrPlayerNotFound))
}
