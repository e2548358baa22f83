package service

import (
	"sync"

	"pokerclub/internal/model"
	"pokerclub/internal/repository"
)

func (s *ServiceSuite) TestCreateOrLinkPlayerCreatesWithUniversalID() {
	p, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|alice", model.ProfileFields{
		Email: "  Alice@Club.Test ",
		Name:  "Alice",
	})
	s.Require().NoError(err)

	s.NotZero(p.AppID)
	s.Require().NotNil(p.UniversalID)
	s.NotEmpty(*p.UniversalID)
	s.Equal("alice@club.test", p.Email)
	s.Equal(model.KycStatusPending, p.KycStatus)
	s.requireMoney("0", p.CashBalance)

	links, err := s.identity.ListAuthLinks(s.ctx, p.AppID)
	s.Require().NoError(err)
	s.Require().Len(links, 1)
	s.Equal("auth0|alice", links[0].ExternalAuthID)
	s.Nil(links[0].UnlinkedAt)
}

func (s *ServiceSuite) TestCreateOrLinkPlayerIsIdempotent() {
	profile := model.ProfileFields{Email: "bob@club.test", Name: "Bob"}
	first, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|bob", profile)
	s.Require().NoError(err)
	second, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|bob", profile)
	s.Require().NoError(err)

	s.Equal(first.AppID, second.AppID)
	s.Equal(*first.UniversalID, *second.UniversalID)

	var count int64
	s.Require().NoError(s.db.Model(&model.Player{}).Count(&count).Error)
	s.EqualValues(1, count)
}

func (s *ServiceSuite) TestCreateOrLinkPlayerLinksExistingEmail() {
	players := repository.NewPlayerRepository(s.db)
	legacy := &model.Player{Email: "carol@club.test", Name: "Carol", KycStatus: model.KycStatusApproved}
	s.Require().NoError(players.Create(s.ctx, nil, legacy))

	linked, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|carol", model.ProfileFields{Email: "CAROL@club.test"})
	s.Require().NoError(err)
	s.Equal(legacy.AppID, linked.AppID)
	s.Require().NotNil(linked.ExternalAuthID)
	s.Equal("auth0|carol", *linked.ExternalAuthID)

	resolved, err := s.identity.ResolveByExternalAuthID(s.ctx, "auth0|carol")
	s.Require().NoError(err)
	s.Equal(legacy.AppID, resolved.AppID)
	s.Equal(model.KycStatusApproved, resolved.KycStatus)
}

func (s *ServiceSuite) TestCreateOrLinkPlayerConflict() {
	_, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|dave", model.ProfileFields{Email: "dave@club.test"})
	s.Require().NoError(err)

	_, err = s.identity.CreateOrLinkPlayer(s.ctx, "google|dave", model.ProfileFields{Email: "dave@club.test"})
	s.ErrorIs(err, model.ErrIdentityConflict)

	_, err = s.identity.ResolveByExternalAuthID(s.ctx, "google|dave")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *ServiceSuite) TestCreateOrLinkPlayerRequiresIdentityAndEmail() {
	_, err := s.identity.CreateOrLinkPlayer(s.ctx, " ", model.ProfileFields{Email: "x@club.test"})
	s.ErrorIs(err, model.ErrInvalidProfile)

	_, err = s.identity.CreateOrLinkPlayer(s.ctx, "auth0|x", model.ProfileFields{})
	s.ErrorIs(err, model.ErrInvalidProfile)

	_, err = s.identity.ResolveByExternalAuthID(s.ctx, "")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *ServiceSuite) TestConcurrentFirstLoginCreatesOnePlayer() {
	const workers = 4
	var wg sync.WaitGroup
	appIDs := make([]uint64, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|erin", model.ProfileFields{Email: "erin@club.test"})
			errs[i] = err
			if err == nil {
				appIDs[i] = p.AppID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		s.Require().NoError(errs[i])
		s.Equal(appIDs[0], appIDs[i])
	}
}

func (s *ServiceSuite) TestRelinkExternalAuthKeepsHistory() {
	p, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|frank", model.ProfileFields{Email: "frank@club.test"})
	s.Require().NoError(err)

	relinked, err := s.identity.RelinkExternalAuth(s.ctx, p.AppID, "google|frank", "cashier-1")
	s.Require().NoError(err)
	s.Equal("google|frank", *relinked.ExternalAuthID)

	_, err = s.identity.ResolveByExternalAuthID(s.ctx, "auth0|frank")
	s.ErrorIs(err, model.ErrPlayerNotFound)
	resolved, err := s.identity.ResolveByExternalAuthID(s.ctx, "google|frank")
	s.Require().NoError(err)
	s.Equal(p.AppID, resolved.AppID)

	links, err := s.identity.ListAuthLinks(s.ctx, p.AppID)
	s.Require().NoError(err)
	s.Require().Len(links, 2)
	s.NotNil(links[0].UnlinkedAt)
	s.Nil(links[1].UnlinkedAt)
	s.Require().NotNil(links[1].LinkedBy)
	s.Equal("cashier-1", *links[1].LinkedBy)
}

func (s *ServiceSuite) TestRelinkExternalAuthRejectsIdentityHeldByOther() {
	a, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|gina", model.ProfileFields{Email: "gina@club.test"})
	s.Require().NoError(err)
	_, err = s.identity.CreateOrLinkPlayer(s.ctx, "auth0|hank", model.ProfileFields{Email: "hank@club.test"})
	s.Require().NoError(err)

	_, err = s.identity.RelinkExternalAuth(s.ctx, a.AppID, "auth0|hank", "cashier-1")
	s.ErrorIs(err, model.ErrIdentityConflict)

	_, err = s.identity.RelinkExternalAuth(s.ctx, 424242, "auth0|nobody", "cashier-1")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *ServiceSuite) TestUpdateKycStatus() {
	p, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|ivy", model.ProfileFields{Email: "ivy@club.test"})
	s.Require().NoError(err)

	_, err = s.identity.UpdateKycStatus(s.ctx, p.AppID, "verified")
	s.ErrorIs(err, model.ErrInvalidKycStatus)

	updated, err := s.identity.UpdateKycStatus(s.ctx, p.AppID, model.KycStatusRejected)
	s.Require().NoError(err)
	s.Equal(model.KycStatusRejected, updated.KycStatus)
	s.Equal(model.KycStatusRejected, s.player(p.AppID).KycStatus)

	// 重复写入同一状态不应报错
	_, err = s.identity.UpdateKycStatus(s.ctx, p.AppID, model.KycStatusRejected)
	s.NoError(err)

	_, err = s.identity.UpdateKycStatus(s.ctx, 424242, model.KycStatusApproved)
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *ServiceSuite) TestBackfillUniversalIDsIsIdempotent() {
	players := repository.NewPlayerRepository(s.db)
	for _, email := range []string{"j1@club.test", "j2@club.test", "j3@club.test"} {
		s.Require().NoError(players.Create(s.ctx, nil, &model.Player{Email: email, KycStatus: model.KycStatusPending}))
	}
	existing, err := s.identity.CreateOrLinkPlayer(s.ctx, "auth0|j4", model.ProfileFields{Email: "j4@club.test"})
	s.Require().NoError(err)

	s.identity.batchSize = 2
	count, err := s.identity.BackfillUniversalIDs(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(3, count)

	missing, err := players.CountMissingUniversalID(s.ctx)
	s.Require().NoError(err)
	s.Zero(missing)

	count, err = s.identity.BackfillUniversalIDs(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)

	s.Equal(*existing.UniversalID, *s.player(existing.AppID).UniversalID)
}
