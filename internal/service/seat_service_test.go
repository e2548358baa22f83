package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pokerclub/internal/model"
	"pokerclub/internal/repository"
)

func (s *ServiceSuite) TestWaitlistAllowsSharedPreferredSeat() {
	a := s.newPlayer("0", "0")
	b := s.newPlayer("0", "0")

	wa, err := s.seats.JoinWaitlist(s.ctx, a.AppID, 1, 5)
	s.Require().NoError(err)
	wb, err := s.seats.JoinWaitlist(s.ctx, b.AppID, 1, 5)
	s.Require().NoError(err)
	s.Equal(model.SeatPhaseWaiting, wa.Phase())
	s.Equal(wa.SeatNumber, wb.SeatNumber)

	_, err = s.seats.JoinWaitlist(s.ctx, a.AppID, 1, 2)
	s.ErrorIs(err, model.ErrSessionAlreadyOpen)

	// 不同桌可以同时等候
	_, err = s.seats.JoinWaitlist(s.ctx, a.AppID, 2, 0)
	s.NoError(err)

	view, err := s.seats.ListTable(s.ctx, 1)
	s.Require().NoError(err)
	s.Empty(view.Seated)
	s.Require().Len(view.Waitlist, 2)
	s.Equal(a.AppID, view.Waitlist[0].PlayerAppID)
	s.Equal(b.AppID, view.Waitlist[1].PlayerAppID)
}

func (s *ServiceSuite) TestJoinWaitlistValidation() {
	p := s.newPlayer("0", "0")
	_, err := s.seats.JoinWaitlist(s.ctx, p.AppID, 0, 1)
	s.ErrorIs(err, model.ErrInvalidSeat)
	_, err = s.seats.JoinWaitlist(s.ctx, p.AppID, 1, -1)
	s.ErrorIs(err, model.ErrInvalidSeat)

	unverified, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|pending", model.ProfileFields{Email: "pending@club.test"})
	s.Require().NoError(err)
	_, err = s.seats.JoinWaitlist(s.ctx, unverified.AppID, 1, 1)
	s.ErrorIs(err, model.ErrKycNotApproved)
}

func (s *ServiceSuite) TestAssignSeatWithInitialBuyIn() {
	p := s.newPlayer("1000.00", "500.00")
	session := s.seatPlayer(p.AppID, 3, 4, "1200.00")

	s.Equal(model.SeatStatusSeated, session.Status)
	s.Equal(model.SeatPhaseSeated, session.Phase())
	s.Equal(4, session.SeatNumber)
	s.Require().NotNil(session.SessionStartTime)
	s.True(session.SessionStartTime.Equal(s.clock.Now()))
	s.requireMoney("1200.00", session.SessionBuyInAmount)

	balance, err := s.ledger.GetBalance(s.ctx, p.AppID)
	s.Require().NoError(err)
	s.True(balance.IsSeated)
	s.requireMoney("0.00", balance.Cash)
	s.requireMoney("200.00", balance.Credit)
	s.requireMoney("1000.00", balance.TableBalance.Cash)
	s.requireMoney("200.00", balance.TableBalance.Credit)

	count, err := repository.NewTransactionRepository(s.db).CountByReference(s.ctx, fmt.Sprintf("seat:%d", session.ID))
	s.Require().NoError(err)
	s.EqualValues(1, count)
	s.requireConsistent(p.AppID)
}

func (s *ServiceSuite) TestAssignSeatFailsWithoutFunds() {
	p := s.newPlayer("100.00", "0")
	_, err := s.seats.JoinWaitlist(s.ctx, p.AppID, 3, 1)
	s.Require().NoError(err)

	_, err = s.seats.AssignSeat(s.ctx, &AssignSeatRequest{
		StaffID:      "floor-1",
		PlayerAppID:  p.AppID,
		TableID:      3,
		SeatNumber:   1,
		InitialBuyIn: dec("500.00"),
	})
	s.ErrorIs(err, model.ErrInsufficientFunds)

	// 整个入座回滚，玩家仍在等候
	session, err := s.seats.GetSeatSession(s.ctx, p.AppID, 3)
	s.Require().NoError(err)
	s.Equal(model.SeatStatusWaiting, session.Status)
	s.Nil(session.OccupiedKey)
}

func (s *ServiceSuite) TestAssignSeatRequiresWaitlist() {
	p := s.newPlayer("0", "0")
	_, err := s.seats.AssignSeat(s.ctx, &AssignSeatRequest{
		StaffID: "floor-1", PlayerAppID: p.AppID, TableID: 3, SeatNumber: 1,
	})
	s.ErrorIs(err, model.ErrNotWaitlisted)

	s.seatPlayer(p.AppID, 3, 1, "0")
	_, err = s.seats.AssignSeat(s.ctx, &AssignSeatRequest{
		StaffID: "floor-1", PlayerAppID: p.AppID, TableID: 3, SeatNumber: 2,
	})
	s.ErrorIs(err, model.ErrNotWaitlisted)

	_, err = s.seats.AssignSeat(s.ctx, &AssignSeatRequest{
		StaffID: "floor-1", PlayerAppID: p.AppID, TableID: 3, SeatNumber: 0,
	})
	s.ErrorIs(err, model.ErrInvalidSeat)
}

func (s *ServiceSuite) TestOccupiedSeatRejected() {
	a := s.newPlayer("0", "0")
	b := s.newPlayer("0", "0")
	s.seatPlayer(a.AppID, 6, 2, "0")

	_, err := s.seats.JoinWaitlist(s.ctx, b.AppID, 6, 2)
	s.Require().NoError(err)
	_, err = s.seats.AssignSeat(s.ctx, &AssignSeatRequest{
		StaffID: "floor-1", PlayerAppID: b.AppID, TableID: 6, SeatNumber: 2,
	})
	s.ErrorIs(err, model.ErrSeatAlreadyOccupied)
}

func (s *ServiceSuite) TestConcurrentAssignSameSeatOnlyOneWins() {
	a := s.newPlayer("0", "0")
	b := s.newPlayer("0", "0")
	for _, appID := range []uint64{a.AppID, b.AppID} {
		_, err := s.seats.JoinWaitlist(s.ctx, appID, 8, 5)
		s.Require().NoError(err)
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, appID := range []uint64{a.AppID, b.AppID} {
		wg.Add(1)
		go func(i int, appID uint64) {
			defer wg.Done()
			_, errs[i] = s.seats.AssignSeat(s.ctx, &AssignSeatRequest{
				StaffID: "floor-1", PlayerAppID: appID, TableID: 8, SeatNumber: 5,
			})
		}(i, appID)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, model.ErrSeatAlreadyOccupied):
			lost++
		}
	}
	s.Equal(1, won)
	s.Equal(1, lost)

	view, err := s.seats.ListTable(s.ctx, 8)
	s.Require().NoError(err)
	s.Len(view.Seated, 1)
	s.Len(view.Waitlist, 1)
}

func (s *ServiceSuite) TestVacateReconcilesSession() {
	p := s.newPlayer("1000.00", "500.00")
	session := s.seatPlayer(p.AppID, 2, 1, "1200.00")

	_, err := s.seats.OpenCashoutWindow(s.ctx, "floor-1", session.ID, 0)
	s.Require().NoError(err)
	req, err := s.requests.SubmitCashOut(s.ctx, p.AppID, &SubmitRequest{Amount: dec("1500.00")})
	s.Require().NoError(err)
	_, err = s.requests.Approve(s.ctx, req.ID, "cashier-1", false)
	s.Require().NoError(err)

	recon, err := s.seats.Vacate(s.ctx, "floor-1", session.ID, model.VacateReasonCashedOut)
	s.Require().NoError(err)
	s.requireMoney("1200.00", recon.BuyInAmount)
	s.requireMoney("1500.00", recon.CashOutAmount)
	s.requireMoney("300.00", recon.Net)

	stored, err := s.seats.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(model.SeatStatusVacated, stored.Status)
	s.Equal(model.VacateReasonCashedOut, stored.VacateReason)
	s.Nil(stored.OpenKey)
	s.Nil(stored.OccupiedKey)

	balance, err := s.ledger.GetBalance(s.ctx, p.AppID)
	s.Require().NoError(err)
	s.False(balance.IsSeated)
	s.requireMoney("1300.00", balance.Cash)

	_, err = s.seats.Vacate(s.ctx, "floor-1", session.ID, "")
	s.ErrorIs(err, model.ErrInvalidTransition)

	// 座位释放后可以重新加入
	_, err = s.seats.JoinWaitlist(s.ctx, p.AppID, 2, 1)
	s.NoError(err)
}

func (s *ServiceSuite) TestVacateClearsUncashedTableBalance() {
	p := s.newPlayer("500.00", "0")
	session := s.seatPlayer(p.AppID, 2, 1, "200.00")

	_, err := s.seats.Vacate(s.ctx, "floor-1", session.ID, "")
	s.Require().NoError(err)

	after := s.player(p.AppID)
	s.requireMoney("300.00", after.CashBalance)
	s.requireMoney("0", after.TableBalance())
	s.requireConsistent(p.AppID)

	stored, err := s.seats.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(model.VacateReasonStaff, stored.VacateReason)
}

func (s *ServiceSuite) TestCallTimeForfeitsSeat() {
	p := s.newPlayer("0", "0")
	other := s.newPlayer("0", "0")
	session := s.seatPlayer(p.AppID, 5, 3, "0")
	kept := s.seatPlayer(other.AppID, 5, 4, "0")

	started, err := s.seats.StartCallTime(s.ctx, "floor-1", session.ID, 0)
	s.Require().NoError(err)
	s.Equal(model.SeatPhaseCallTimeActive, started.Phase())
	s.Require().NotNil(started.CallTimeEnds)
	s.True(started.CallTimeEnds.Equal(s.clock.Now().Add(10 * time.Minute)))

	_, err = s.seats.StartCallTime(s.ctx, "floor-1", kept.ID, 0)
	s.Require().NoError(err)
	_, err = s.seats.ClearCallTime(s.ctx, kept.ID)
	s.Require().NoError(err)

	n, err := s.seats.ForfeitExpiredCallTimes(s.ctx, 100)
	s.Require().NoError(err)
	s.Zero(n)

	s.clock.Advance(11 * time.Minute)
	n, err = s.seats.ForfeitExpiredCallTimes(s.ctx, 100)
	s.Require().NoError(err)
	s.Equal(1, n)

	stored, err := s.seats.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(model.SeatStatusVacated, stored.Status)
	s.Equal(model.VacateReasonForfeited, stored.VacateReason)

	stillSeated, err := s.seats.GetByID(s.ctx, kept.ID)
	s.Require().NoError(err)
	s.Equal(model.SeatPhaseSeated, stillSeated.Phase())

	n, err = s.seats.ForfeitExpiredCallTimes(s.ctx, 100)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ServiceSuite) TestCashoutWindowExpires() {
	p := s.newPlayer("0", "0")
	session := s.seatPlayer(p.AppID, 5, 1, "0")

	opened, err := s.seats.OpenCashoutWindow(s.ctx, "floor-1", session.ID, 0)
	s.Require().NoError(err)
	s.Equal(model.SeatPhaseCashoutWindowActive, opened.Phase())

	s.clock.Advance(14 * time.Minute)
	n, err := s.seats.CloseExpiredCashoutWindows(s.ctx, 100)
	s.Require().NoError(err)
	s.Zero(n)

	s.clock.Advance(2 * time.Minute)
	n, err = s.seats.CloseExpiredCashoutWindows(s.ctx, 100)
	s.Require().NoError(err)
	s.Equal(1, n)

	stored, err := s.seats.GetByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.False(stored.CashoutWindowActive)
	s.Equal(model.SeatPhaseSeated, stored.Phase())
}

func (s *ServiceSuite) TestCloseCashoutWindowManually() {
	p := s.newPlayer("0", "0")
	session := s.seatPlayer(p.AppID, 5, 1, "0")
	_, err := s.seats.OpenCashoutWindow(s.ctx, "floor-1", session.ID, 0)
	s.Require().NoError(err)

	closed, err := s.seats.CloseCashoutWindow(s.ctx, session.ID)
	s.Require().NoError(err)
	s.False(closed.CashoutWindowActive)

	_, err = s.requests.SubmitCashOut(s.ctx, p.AppID, &SubmitRequest{Amount: dec("10")})
	s.ErrorIs(err, model.ErrCashoutWindowClosed)
}

func (s *ServiceSuite) TestSeatedOnlyOperationsRejectWaitingSession() {
	p := s.newPlayer("0", "0")
	waiting, err := s.seats.JoinWaitlist(s.ctx, p.AppID, 5, 0)
	s.Require().NoError(err)

	_, err = s.seats.StartCallTime(s.ctx, "floor-1", waiting.ID, 0)
	s.ErrorIs(err, model.ErrNotSeated)
	_, err = s.seats.OpenCashoutWindow(s.ctx, "floor-1", waiting.ID, 0)
	s.ErrorIs(err, model.ErrNotSeated)
	_, err = s.seats.StartCallTime(s.ctx, "floor-1", 424242, 0)
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *ServiceSuite) TestLeaveWaitlist() {
	p := s.newPlayer("0", "0")
	_, err := s.seats.JoinWaitlist(s.ctx, p.AppID, 5, 0)
	s.Require().NoError(err)

	left, err := s.seats.LeaveWaitlist(s.ctx, p.AppID, 5)
	s.Require().NoError(err)
	s.Equal(model.SeatStatusVacated, left.Status)
	s.Equal(model.VacateReasonLeftQueue, left.VacateReason)

	_, err = s.seats.LeaveWaitlist(s.ctx, p.AppID, 5)
	s.ErrorIs(err, model.ErrNotWaitlisted)

	s.seatPlayer(p.AppID, 5, 1, "0")
	_, err = s.seats.LeaveWaitlist(s.ctx, p.AppID, 5)
	s.ErrorIs(err, model.ErrNotWaitlisted)
}

func (s *ServiceSuite) TestSeatChangesEmittedToPlayerAndStaff() {
	p := s.newPlayer("0", "0")
	s.seatPlayer(p.AppID, 5, 1, "0")

	for _, channel := range []string{model.PlayerChannel(p.AppID), model.StaffChannel} {
		msgs, err := s.outbox.ListByChannel(s.ctx, channel)
		s.Require().NoError(err)
		seatEvents := 0
		for _, msg := range msgs {
			if msg.Event == model.EventSeatChanged {
				seatEvents++
			}
		}
		s.Equal(2, seatEvents, channel)
	}
}
