package services

import (
	cryptorand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/pixelplaza/backend/internal/models"
)

// AccountLedger is the slice of the ledger the account service needs.
type AccountLedger interface {
	CreateAccount(id string) error
	Deactivate(id string) error
	Append(batch []models.LedgerEntry) ([]models.LedgerEntry, error)
	Snapshot(id string) (*models.Account, error)
	Entries(accountID string) []models.LedgerEntry
}

// AccountService handles registration, login and account enquiries. Every
// new account receives a signup deposit of regular credits and a welcome
// reward of special credits through the ledger; registration fails when the
// grants cannot be committed.
type AccountService struct {
	mu         sync.RWMutex
	byEmail    map[string]*userRecord
	byID       map[string]*userRecord
	ledger     AccountLedger
	validation *ValidationHelper
}

type userRecord struct {
	AccountID      string
	Email          string
	Username       string
	hashedPassword string
}

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Username string `json:"username" validate:"required,min=2,max=32"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// User represents user information
type User struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
}

// AccountResponse carries account details with current balances.
type AccountResponse struct {
	User            User  `json:"user"`
	RegularBalance  int64 `json:"regular_balance"`
	SpecialBalance  int64 `json:"special_balance"`
	Active          bool  `json:"active"`
	Version         int64 `json:"version"`
}

func NewAccountService(l AccountLedger) *AccountService {
	viper.SetDefault("jwt.secret_key", "dev-secret-change-me")
	viper.SetDefault("jwt.expiry_hours", 72)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)
	viper.SetDefault("grants.signup_bonus", 1000)
	viper.SetDefault("grants.welcome_reward", 50)

	return &AccountService{
		byEmail:    make(map[string]*userRecord),
		byID:       make(map[string]*userRecord),
		ledger:     l,
		validation: NewValidationHelper(),
	}
}

// Register handles user registration
func (s *AccountService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RegisterRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Registration failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[AUTH] Multiple JSON objects detected")
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validation.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	email := strings.ToLower(req.Email)
	accountID := uuid.New().String()

	s.mu.Lock()
	if _, exists := s.byEmail[email]; exists {
		s.mu.Unlock()
		log.Printf("[AUTH] Registration rejected, email taken: %s", email)
		SendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
		return
	}
	rec := &userRecord{
		AccountID:      accountID,
		Email:          email,
		Username:       req.Username,
		hashedPassword: hashedPassword,
	}
	s.byEmail[email] = rec
	s.byID[accountID] = rec
	s.mu.Unlock()

	if err := s.ledger.CreateAccount(accountID); err != nil {
		log.Printf("[AUTH] Account creation failed for %s: %v", email, err)
		s.removeUser(email, accountID)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}
	if err := s.grantSignupCredits(accountID); err != nil {
		// No account without its signup grants: free the email for a retry
		// and retire the empty ledger account.
		log.Printf("[AUTH] Signup grant failed for %s: %v", accountID, err)
		s.removeUser(email, accountID)
		if err := s.ledger.Deactivate(accountID); err != nil {
			log.Printf("[AUTH] Failed to deactivate orphaned account %s: %v", accountID, err)
		}
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	token, err := generateJWT(accountID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Registration successful for account %s", accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{
		Token: token,
		User:  User{AccountID: accountID, Email: email, Username: req.Username},
	})
}

// Login handles user authentication
func (s *AccountService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[AUTH] Multiple JSON objects detected")
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validation.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	s.mu.RLock()
	rec, ok := s.byEmail[strings.ToLower(req.Email)]
	s.mu.RUnlock()
	if !ok || !verifyPassword(req.Password, rec.hashedPassword) {
		log.Printf("[AUTH] Invalid credentials for %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := generateJWT(rec.AccountID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for %s: %v", rec.AccountID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for account %s", rec.AccountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{
		Token: token,
		User:  User{AccountID: rec.AccountID, Email: rec.Email, Username: rec.Username},
	})
}

// GetAccount returns the authenticated user's account with balances.
func (s *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.RLock()
	rec, found := s.byID[accountID]
	s.mu.RUnlock()
	if !found {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	snapshot, err := s.ledger.Snapshot(accountID)
	if err != nil {
		log.Printf("[AUTH] Balance lookup failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AccountResponse{
		User:           User{AccountID: rec.AccountID, Email: rec.Email, Username: rec.Username},
		RegularBalance: snapshot.RegularBalance,
		SpecialBalance: snapshot.SpecialBalance,
		Active:         snapshot.Active,
		Version:        snapshot.Version,
	})
}

// GetHistory returns the authenticated user's ledger entries, oldest first.
func (s *AccountService) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entries := s.ledger.Entries(accountID)
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"account_id": accountID,
		"entries":    entries,
	})
}

func (s *AccountService) grantSignupCredits(accountID string) error {
	bonus := viper.GetInt64("grants.signup_bonus")
	reward := viper.GetInt64("grants.welcome_reward")

	corr := "signup-" + accountID
	var batch []models.LedgerEntry
	if bonus > 0 {
		batch = append(batch, models.LedgerEntry{
			CorrelationID: corr, AccountID: accountID,
			Currency: models.CurrencyRegular, Amount: bonus, Kind: models.EntryDeposit,
		})
	}
	if reward > 0 {
		batch = append(batch, models.LedgerEntry{
			CorrelationID: corr, AccountID: accountID,
			Currency: models.CurrencySpecial, Amount: reward, Kind: models.EntryReward,
		})
	}
	if len(batch) == 0 {
		return nil
	}
	_, err := s.ledger.Append(batch)
	return err
}

func (s *AccountService) removeUser(email, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byEmail, email)
	delete(s.byID, accountID)
}

// Lookup resolves an account id to its user record. Used by handlers that
// need to show usernames next to listings.
func (s *AccountService) Lookup(accountID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[accountID]
	if !ok {
		return User{}, errors.New("unknown account")
	}
	return User{AccountID: rec.AccountID, Email: rec.Email, Username: rec.Username}, nil
}

func generateJWT(accountID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": accountID,
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
