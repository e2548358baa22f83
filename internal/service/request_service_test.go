package service

import (
	"errors"
	"sync"
	"time"

	"pokerclub/internal/model"
	"pokerclub/internal/repository"
)

func (s *ServiceSuite) submitBuyIn(appID uint64, amount string) *model.TableRequest {
	s.T().Helper()
	req, err := s.requests.SubmitBuyIn(s.ctx, appID, &SubmitRequest{Amount: dec(amount)})
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) TestBuyInRequestBeyondFundsRejectedAtSubmit() {
	p := s.newPlayer("1000.00", "0")
	before := s.countTransactions(p.AppID)

	_, err := s.requests.SubmitBuyIn(s.ctx, p.AppID, &SubmitRequest{Amount: dec("1500.00")})
	s.ErrorIs(err, model.ErrInsufficientFunds)

	s.Equal(before, s.countTransactions(p.AppID))
	s.requireMoney("1000.00", s.player(p.AppID).CashBalance)
	pending, err := s.requests.ListPending(s.ctx, "")
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *ServiceSuite) TestBuyInRequestApprovedUsesCreditForShortfall() {
	p := s.newPlayer("1000.00", "500.00")
	req := s.submitBuyIn(p.AppID, "1200.00")
	s.Equal(model.RequestStatusPending, req.Status)
	s.Contains(req.RequestNo, "BIN")

	// 提交不动账本
	s.requireMoney("1000.00", s.player(p.AppID).CashBalance)

	approved, err := s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.Require().NoError(err)
	s.Equal(model.RequestStatusApproved, approved.Status)
	s.Require().NotNil(approved.ResolvedBy)
	s.Equal("cashier-1", *approved.ResolvedBy)

	after := s.player(p.AppID)
	s.requireMoney("0.00", after.CashBalance)
	s.requireMoney("200.00", after.CreditBalance)
	s.requireMoney("1200.00", after.TableBalance())
	s.requireConsistent(p.AppID)

	stored, err := s.requests.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(model.RequestStatusApproved, stored.Status)
	s.Nil(stored.PendingKey)
}

func (s *ServiceSuite) TestDuplicatePendingRequestRejected() {
	p := s.newPlayer("1000.00", "0")
	first := s.submitBuyIn(p.AppID, "100.00")

	_, err := s.requests.SubmitBuyIn(s.ctx, p.AppID, &SubmitRequest{Amount: dec("50.00")})
	s.ErrorIs(err, model.ErrDuplicatePendingRequest)

	_, err = s.requests.Reject(s.ctx, first.ID, "cashier-1", "wrong amount")
	s.Require().NoError(err)

	// 处理完之后可以再次提交
	s.submitBuyIn(p.AppID, "50.00")
}

func (s *ServiceSuite) TestApproveTwiceMutatesLedgerOnce() {
	p := s.newPlayer("1000.00", "0")
	req := s.submitBuyIn(p.AppID, "300.00")

	_, err := s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.Require().NoError(err)
	_, err = s.requests.Approve(s.ctx, req.ID, "cashier-2", false)
	s.ErrorIs(err, model.ErrAlreadyResolved)
	_, err = s.requests.Reject(s.ctx, req.ID, "cashier-2", "late")
	s.ErrorIs(err, model.ErrAlreadyResolved)

	count, err := repository.NewTransactionRepository(s.db).CountByReference(s.ctx, req.RequestNo)
	s.Require().NoError(err)
	s.EqualValues(1, count)
	s.requireMoney("700.00", s.player(p.AppID).CashBalance)
}

func (s *ServiceSuite) TestConcurrentApproveOnlyOneWins() {
	p := s.newPlayer("1000.00", "0")
	req := s.submitBuyIn(p.AppID, "400.00")

	const workers = 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		resolved int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, model.ErrAlreadyResolved):
				resolved++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, success)
	s.Equal(workers-1, resolved)

	count, err := repository.NewTransactionRepository(s.db).CountByReference(s.ctx, req.RequestNo)
	s.Require().NoError(err)
	s.EqualValues(1, count)
	s.requireMoney("600.00", s.player(p.AppID).CashBalance)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestFailedApprovalLeavesRequestPending() {
	p := s.newPlayer("1000.00", "0")
	req := s.submitBuyIn(p.AppID, "900.00")

	// 提交后玩家取走了现金
	_, err := s.ledger.ApplyTransaction(s.ctx, p.AppID, model.TransactionTypeWithdrawal, dec("500.00"), nil)
	s.Require().NoError(err)
	before := s.countTransactions(p.AppID)

	_, err = s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.ErrorIs(err, model.ErrInsufficientFunds)

	stored, err := s.requests.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(model.RequestStatusPending, stored.Status)
	s.NotNil(stored.PendingKey)
	s.Equal(before, s.countTransactions(p.AppID))
	s.requireMoney("500.00", s.player(p.AppID).CashBalance)
}

func (s *ServiceSuite) TestRejectDoesNotTouchLedger() {
	p := s.newPlayer("1000.00", "0")
	req := s.submitBuyIn(p.AppID, "100.00")
	before := s.countTransactions(p.AppID)

	rejected, err := s.requests.Reject(s.ctx, req.ID, "cashier-1", "no cash received")
	s.Require().NoError(err)
	s.Equal(model.RequestStatusRejected, rejected.Status)
	s.Equal("no cash received", rejected.RejectReason)

	s.Equal(before, s.countTransactions(p.AppID))
	_, err = s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.ErrorIs(err, model.ErrAlreadyResolved)

	_, err = s.requests.Approve(s.ctx, 424242, "cashier-1", false)
	s.ErrorIs(err, model.ErrRequestNotFound)
}

func (s *ServiceSuite) TestBuyInRequestRequiresKyc() {
	p, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|unverified", model.ProfileFields{Email: "unverified@club.test"})
	s.Require().NoError(err)

	_, err = s.requests.SubmitBuyIn(s.ctx, p.AppID, &SubmitRequest{Amount: dec("10.00")})
	s.ErrorIs(err, model.ErrKycNotApproved)
}

func (s *ServiceSuite) TestSubmitValidation() {
	p := s.newPlayer("100.00", "0")

	_, err := s.requests.Submit(s.ctx, "rebuy", p.AppID, dec("10"), nil)
	s.ErrorIs(err, model.ErrInvalidRequestKind)

	_, err = s.requests.SubmitBuyIn(s.ctx, p.AppID, &SubmitRequest{Amount: dec("0")})
	s.ErrorIs(err, model.ErrInvalidAmount)

	_, err = s.requests.SubmitBuyIn(s.ctx, 424242, &SubmitRequest{Amount: dec("10")})
	s.ErrorIs(err, model.ErrPlayerNotFound)

	_, err = s.requests.SubmitCashOut(s.ctx, p.AppID, &SubmitRequest{Amount: dec("10")})
	s.ErrorIs(err, model.ErrNotSeated)

	_, err = s.requests.ListPending(s.ctx, "rebuy")
	s.ErrorIs(err, model.ErrInvalidRequestKind)
}

func (s *ServiceSuite) TestCashOutRequiresOpenWindow() {
	const table = uint64(7)
	p := s.newPlayer("1000.00", "500.00")
	session := s.seatPlayer(p.AppID, table, 3, "1200.00")

	_, err := s.requests.SubmitCashOut(s.ctx, p.AppID, &SubmitRequest{Amount: dec("1500.00")})
	s.ErrorIs(err, model.ErrCashoutWindowClosed)

	_, err = s.seats.OpenCashoutWindow(s.ctx, "floor-1", session.ID, 0)
	s.Require().NoError(err)

	req, err := s.requests.SubmitCashOut(s.ctx, p.AppID, &SubmitRequest{Amount: dec("1500.00")})
	s.Require().NoError(err)
	s.Require().NotNil(req.TableID)
	s.Equal(table, *req.TableID)
	s.Contains(req.RequestNo, "COT")

	approved, err := s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.Require().NoError(err)
	s.False(approved.StaffOverride)

	after := s.player(p.AppID)
	s.requireMoney("1300.00", after.CashBalance)
	s.requireMoney("0.00", after.CreditBalance)

	stored, err := s.seats.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.requireMoney("1200.00", stored.SessionBuyInAmount)
	s.requireMoney("1500.00", stored.SessionCashOutAmount)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestCashOutAfterWindowExpiryNeedsOverride() {
	p := s.newPlayer("500.00", "0")
	session := s.seatPlayer(p.AppID, 9, 1, "200.00")

	_, err := s.seats.OpenCashoutWindow(s.ctx, "floor-1", session.ID, 5*time.Minute)
	s.Require().NoError(err)
	req, err := s.requests.SubmitCashOut(s.ctx, p.AppID, &SubmitRequest{Amount: dec("250.00")})
	s.Require().NoError(err)

	s.clock.Advance(6 * time.Minute)

	_, err = s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.ErrorIs(err, model.ErrCashoutWindowClosed)
	stored, err := s.requests.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(model.RequestStatusPending, stored.Status)

	approved, err := s.requests.Approve(s.ctx, req.ID, "manager-1", true)
	s.Require().NoError(err)
	s.True(approved.StaffOverride)
	s.requireMoney("550.00", s.player(p.AppID).CashBalance)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestBuyInRequestAtTableAddsToSession() {
	p := s.newPlayer("1000.00", "0")
	session := s.seatPlayer(p.AppID, 4, 2, "300.00")
	table := uint64(4)

	req, err := s.requests.SubmitBuyIn(s.ctx, p.AppID, &SubmitRequest{Amount: dec("200.00"), TableID: &table})
	s.Require().NoError(err)
	_, err = s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.Require().NoError(err)

	stored, err := s.seats.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.requireMoney("500.00", stored.SessionBuyInAmount)
	s.requireMoney("500.00", s.player(p.AppID).CashBalance)
	s.requireMoney("500.00", s.player(p.AppID).TableCash)
}

func (s *ServiceSuite) TestBuyInWithoutTableUsesSeatedSession() {
	p := s.newPlayer("1000.00", "0")
	session := s.seatPlayer(p.AppID, 4, 2, "300.00")

	req := s.submitBuyIn(p.AppID, "200.00")
	s.Require().NotNil(req.TableID)
	s.Equal(uint64(4), *req.TableID)

	_, err := s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.Require().NoError(err)

	stored, err := s.seats.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.requireMoney("500.00", stored.SessionBuyInAmount)
	s.requireMoney("500.00", s.player(p.AppID).TableCash)
}

func (s *ServiceSuite) TestBuyInSubmittedBeforeSeatingCountsTowardSession() {
	p := s.newPlayer("1000.00", "0")
	req := s.submitBuyIn(p.AppID, "200.00")
	s.Nil(req.TableID)

	session := s.seatPlayer(p.AppID, 7, 1, "100.00")
	_, err := s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.Require().NoError(err)

	stored, err := s.seats.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.requireMoney("300.00", stored.SessionBuyInAmount)
	s.requireMoney("300.00", s.player(p.AppID).TableCash)
}

func (s *ServiceSuite) TestBuyInRequiresTableWhenSeatedAtSeveral() {
	p := s.newPlayer("1000.00", "0")
	s.seatPlayer(p.AppID, 4, 2, "0")
	s.seatPlayer(p.AppID, 5, 2, "0")

	_, err := s.requests.SubmitBuyIn(s.ctx, p.AppID, &SubmitRequest{Amount: dec("200.00")})
	s.ErrorIs(err, model.ErrTableRequired)

	table := uint64(5)
	req, err := s.requests.SubmitBuyIn(s.ctx, p.AppID, &SubmitRequest{Amount: dec("200.00"), TableID: &table})
	s.Require().NoError(err)
	s.Equal(uint64(5), *req.TableID)
}

func (s *ServiceSuite) TestRequestListingAndEvents() {
	a := s.newPlayer("100.00", "0")
	b := s.newPlayer("100.00", "0")
	ra := s.submitBuyIn(a.AppID, "10.00")
	s.submitBuyIn(b.AppID, "20.00")

	pending, err := s.requests.ListPending(s.ctx, model.RequestKindBuyIn)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(ra.ID, pending[0].ID)

	_, err = s.requests.Approve(s.ctx, ra.ID, "cashier-1", false)
	s.Require().NoError(err)

	pending, err = s.requests.ListPending(s.ctx, "")
	s.Require().NoError(err)
	s.Len(pending, 1)

	mine, err := s.requests.ListByPlayer(s.ctx, a.AppID)
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal(model.RequestStatusApproved, mine[0].Status)

	staff, err := s.outbox.ListByChannel(s.ctx, model.StaffChannel)
	s.Require().NoError(err)
	var submitted, resolved int
	for _, msg := range staff {
		switch msg.Event {
		case model.EventRequestSubmitted:
			submitted++
		case model.EventRequestResolved:
			resolved++
		}
	}
	s.Equal(2, submitted)
	s.Equal(1, resolved)
}
