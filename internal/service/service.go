package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"time"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/report"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned for a failed login
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden is returned when a user touches an account it does not own
	ErrForbidden = errors.New("account does not belong to user")
	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable is returned when an optional integration is not configured
	ErrUnavailable = errors.New("service unavailable")
)

// Users stores registered holders
type Users interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
}

// KeyRateSource returns the central bank key rate in percent
type KeyRateSource interface {
	GetKeyRate(ctx context.Context) (decimal.Decimal, error)
}

// Service handles business logic
type Service struct {
	users    Users
	accounts ledger.AccountRepository
	txlog    ledger.TransactionLog
	engine   *ledger.Engine
	rates    KeyRateSource
	log      *logrus.Logger
	config   *config.Config
}

// NewService initializes a new service. rates may be nil.
func NewService(users Users, accounts ledger.AccountRepository, txlog ledger.TransactionLog, engine *ledger.Engine,
	rates KeyRateSource, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{users: users, accounts: accounts, txlog: txlog, engine: engine, rates: rates, log: log, config: cfg}
}

// Register creates a new user with hashed password
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Email)
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %s", user.Email)
	return tokenString, nil
}

// OpenAccountRequest describes a new account
type OpenAccountRequest struct {
	HolderName     string             `json:"holder_name" validate:"max=128"`
	Type           models.AccountType `json:"type"`
	InitialDeposit int64              `json:"initial_deposit" validate:"gte=0"`
}

// OpenAccount registers an account for userID with the policy of its type
func (s *Service) OpenAccount(ctx context.Context, userID int64, req OpenAccountRequest) (*models.Account, error) {
	if req.Type == "" {
		req.Type = models.AccountSavings
	}
	policy, ok := models.PolicyFor(req.Type)
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.Type, models.ErrInvalidAccountType)
	}
	if req.InitialDeposit < 0 {
		return nil, models.ErrInvalidAmount
	}
	if req.HolderName == "" {
		user, err := s.users.FindUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		req.HolderName = user.Username
	}

	account := &models.Account{
		OwnerID:        userID,
		HolderName:     req.HolderName,
		Type:           req.Type,
		OverdraftLimit: policy.OverdraftLimit,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	s.log.Infof("Account %s (%s) created for user %d", account.ID, account.Type, userID)

	if req.InitialDeposit > 0 {
		res, err := s.engine.Deposit(ctx, ledger.Request{
			ID:        "open-" + account.ID,
			AccountID: account.ID,
			Amount:    req.InitialDeposit,
			Memo:      "initial deposit",
		})
		if err != nil {
			return account, err
		}
		account.Balance = res.Balance
	}
	return account, nil
}

// owned loads accountID and checks it belongs to userID
func (s *Service) owned(ctx context.Context, userID int64, accountID string) (*models.Account, error) {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != userID {
		return nil, ErrForbidden
	}
	return account, nil
}

// GetAccount returns one of the user's accounts
func (s *Service) GetAccount(ctx context.Context, userID int64, accountID string) (*models.Account, error) {
	return s.owned(ctx, userID, accountID)
}

// Deposit credits one of the user's accounts
func (s *Service) Deposit(ctx context.Context, userID int64, req ledger.Request) (*ledger.Result, error) {
	if _, err := s.owned(ctx, userID, req.AccountID); err != nil {
		return nil, err
	}
	return s.engine.Deposit(ctx, req)
}

// Withdraw debits one of the user's accounts
func (s *Service) Withdraw(ctx context.Context, userID int64, req ledger.Request) (*ledger.Result, error) {
	if _, err := s.owned(ctx, userID, req.AccountID); err != nil {
		return nil, err
	}
	return s.engine.Withdraw(ctx, req)
}

// Transfer moves money out of one of the user's accounts to any account
func (s *Service) Transfer(ctx context.Context, userID int64, req ledger.TransferRequest) (*ledger.Result, error) {
	if _, err := s.owned(ctx, userID, req.FromID); err != nil {
		return nil, err
	}
	return s.engine.Transfer(ctx, req)
}

// Reverse undoes a committed transaction on one of the user's accounts
func (s *Service) Reverse(ctx context.Context, userID int64, req ledger.ReverseRequest) (*ledger.Result, error) {
	tx, err := s.txlog.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, userID, tx.AccountID); err != nil {
		return nil, err
	}
	return s.engine.Reverse(ctx, req)
}

// SetStatus freezes, unfreezes or closes one of the user's accounts.
// Only empty accounts can be closed.
func (s *Service) SetStatus(ctx context.Context, userID int64, accountID string, status models.AccountStatus) (*models.Account, error) {
	if _, err := s.owned(ctx, userID, accountID); err != nil {
		return nil, err
	}
	if err := s.accounts.SetStatus(ctx, accountID, status); err != nil {
		return nil, err
	}
	return s.accounts.Get(ctx, accountID)
}

// History lists the log entries of one of the user's accounts
func (s *Service) History(ctx context.Context, userID int64, accountID string, period report.Period, limit int) ([]models.Transaction, error) {
	if _, err := s.owned(ctx, userID, accountID); err != nil {
		return nil, err
	}
	return report.History(ctx, s.txlog, accountID, period, limit)
}

// Report summarizes one of the user's accounts
func (s *Service) Report(ctx context.Context, userID int64, accountID string, period report.Period) (*models.AccountSummary, error) {
	if _, err := s.owned(ctx, userID, accountID); err != nil {
		return nil, err
	}
	return report.Summarize(ctx, s.txlog, accountID, period)
}

// KeyRate returns the central bank key rate in percent
func (s *Service) KeyRate(ctx context.Context) (decimal.Decimal, error) {
	if s.rates == nil {
		return decimal.Zero, ErrUnavailable
	}
	return s.rates.GetKeyRate(ctx)
}

// Recipient resolves the email address of an account holder
func (s *Service) Recipient(ctx context.Context, accountID string) (string, string, error) {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return "", "", err
	}
	user, err := s.users.FindUserByID(ctx, account.OwnerID)
	if err != nil {
		return "", "", err
	}
	return user.Email, user.Username, nil
}
