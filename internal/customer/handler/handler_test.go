package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"intake/internal/customer/handler/mocks"
	"intake/internal/customer/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/customer-mocks.go -package=mocks Service
type CustomerHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	owner   id.UserID
}

func TestCustomerHandlerSuite(t *testing.T) {
	suite.Run(t, new(CustomerHandlerSuite))
}

func (s *CustomerHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.service = mocks.NewMockService(ctrl)
	s.owner = id.NewUserID()
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *CustomerHandlerSuite) authed(req *http.Request) *http.Request {
	return testutil.WithUserID(req, s.owner.String())
}

func (s *CustomerHandlerSuite) registration() *models.Registration {
	return &models.Registration{
		ID:        id.NewSubmissionID(),
		OwnerID:   s.owner,
		Customer:  models.Customer{Empresa: "Padaria Central LTDA", CPF: "***.***.247-**"},
		Status:    models.StatusSubmitted,
		CreatedAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func (s *CustomerHandlerSuite) TestSubmitCreatesRegistration() {
	reg := s.registration()
	s.service.EXPECT().
		Submit(gomock.Any(), s.owner, gomock.Any()).
		DoAndReturn(func(_ any, _ id.UserID, req *models.SubmitRequest) (*models.Registration, error) {
			s.True(req.FromDraft)
			s.Equal("123456-7", req.Conta)
			return reg, nil
		})

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers", map[string]any{
		"from_draft": true,
		"conta":      "123456-7",
	})
	rr := testutil.DoRequest(s.router, s.authed(req))

	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	got := testutil.UnmarshalResponse[models.Registration](s.T(), rr)
	s.Equal(reg.ID, got.ID)
	s.Equal("Padaria Central LTDA", got.Customer.Empresa)
}

func (s *CustomerHandlerSuite) TestSubmitValidationErrorFromService() {
	s.service.EXPECT().
		Submit(gomock.Any(), s.owner, gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeInvalidInput, "cpf is not a valid CPF"))

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers", map[string]any{"cpf": "123"})
	rr := testutil.DoRequest(s.router, s.authed(req))

	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	testutil.AssertJSONContains(s.T(), rr, "error_description", "cpf is not a valid CPF")
}

func (s *CustomerHandlerSuite) TestSubmitRejectsEmptyBodyWithoutCallingService() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers", map[string]any{})
	rr := testutil.DoRequest(s.router, s.authed(req))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))

	req = testutil.NewRequestWithBody(s.T(), http.MethodPost, "/customers", "{not json")
	rr = testutil.DoRequest(s.router, s.authed(req))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
}

func (s *CustomerHandlerSuite) TestList() {
	reg := s.registration()
	s.service.EXPECT().List(gomock.Any(), s.owner).Return([]*models.Registration{reg}, nil)

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/customers")))

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[models.ListResponse](s.T(), rr)
	s.Require().Len(resp.Registrations, 1)
	s.Equal("***.***.247-**", resp.Registrations[0].Customer.CPF)
}

func (s *CustomerHandlerSuite) TestGet() {
	reg := s.registration()
	s.service.EXPECT().Get(gomock.Any(), s.owner, reg.ID).Return(reg, nil)

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/customers/"+reg.ID.String())))
	testutil.AssertStatusOK(s.T(), rr)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/customers/not-a-uuid")))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
}

func (s *CustomerHandlerSuite) TestGetNotFound() {
	regID := id.NewSubmissionID()
	s.service.EXPECT().Get(gomock.Any(), s.owner, regID).Return(nil, dErrors.New(dErrors.CodeNotFound, "registration not found"))

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/customers/"+regID.String())))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func (s *CustomerHandlerSuite) TestInternalErrorHidesDescription() {
	s.service.EXPECT().List(gomock.Any(), s.owner).Return(nil, dErrors.New(dErrors.CodeInternal, "db down"))

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/customers")))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, string(dErrors.CodeInternal))
	s.NotContains(rr.Body.String(), "db down")
}

func (s *CustomerHandlerSuite) TestRequiresAuthentication() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/customers"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
}
