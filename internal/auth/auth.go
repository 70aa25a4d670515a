package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/marketracker-api/internal/types"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/ksred/marketracker-api/pkg/middleware"
	"github.com/ksred/marketracker-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var ErrTokenGeneration = errors.New("failed to generate token")

// Credentials is the register and login payload
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserView is the public part of a user
type UserView struct {
	Email          string  `json:"email"`
	VirtualBalance float64 `json:"virtual_balance"`
}

// LoginResponse is returned on successful login
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        UserView  `json:"user"`
}

// Claims represents the JWT claims structure. The subject is the user's email.
type Claims struct {
	jwt.RegisteredClaims
}

// Options configures the Service
type Options struct {
	JWTSecret       string
	TokenTTL        time.Duration
	StartingBalance decimal.Decimal
	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int
}

// Service handles registration, login and token verification
type Service struct {
	db              *gorm.DB
	jwtSecret       []byte
	tokenTTL        time.Duration
	startingBalance decimal.Decimal
	bcryptCost      int
	now             func() time.Time
}

// NewService creates a new authentication service
func NewService(db *gorm.DB, opts Options) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * time.Minute
	}
	return &Service{
		db:              db,
		jwtSecret:       []byte(opts.JWTSecret),
		tokenTTL:        opts.TokenTTL,
		startingBalance: opts.StartingBalance,
		bcryptCost:      opts.BcryptCost,
		now:             time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user with the starting balance
func (s *Service) Register(ctx context.Context, creds Credentials) (*types.User, error) {
	email := normalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return nil, apperror.ErrMissingFields.WithMessage("Email and password are required")
	}

	logger := log.With().Str("service", "auth").Str("email", email).Logger()

	var count int64
	if err := s.db.WithContext(ctx).Model(&types.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, apperror.ErrStorage.Wrap(err)
	}
	if count > 0 {
		logger.Info().Msg("registration rejected, email exists")
		return nil, apperror.ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.bcryptCost)
	if err != nil {
		return nil, apperror.New(apperror.KindInternal, "HASH_FAILED", "Failed to create user").Wrap(err)
	}

	user := &types.User{
		Email:        email,
		PasswordHash: hash,
		CashBalance:  s.startingBalance,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperror.ErrEmailExists
		}
		return nil, apperror.ErrStorage.WithMessage("Failed to create user").Wrap(err)
	}

	logger.Info().Uint("user_id", user.ID).Msg("user registered")
	return user, nil
}

// Login checks the password and issues an access token
func (s *Service) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	email := normalizeEmail(creds.Email)

	var user types.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperror.ErrStorage.Wrap(err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		log.Info().Str("service", "auth").Str("email", email).Msg("login rejected")
		return nil, apperror.ErrInvalidCredentials
	}

	token, expiresAt, err := s.GenerateToken(user.Email)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User: UserView{
			Email:          user.Email,
			VirtualBalance: user.CashBalance.InexactFloat64(),
		},
	}, nil
}

// GenerateToken signs an HS256 token whose subject is email
func (s *Service) GenerateToken(email string) (string, time.Time, error) {
	now := s.now()
	expiration := now.Add(s.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, apperror.New(apperror.KindInternal, "TOKEN_GENERATION", ErrTokenGeneration.Error()).Wrap(err)
	}
	return tokenString, expiration, nil
}

// ValidateToken verifies signature and expiry and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.ErrTokenExpired.Wrap(err)
		}
		return nil, apperror.ErrInvalidToken.Wrap(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, apperror.ErrInvalidToken
	}
	return claims, nil
}

// Authenticate resolves a token to the user it was issued for
func (s *Service) Authenticate(ctx context.Context, tokenString string) (uint, string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return 0, "", err
	}

	var user types.User
	err = s.db.WithContext(ctx).Select("id", "email").Where("email = ?", claims.Subject).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", apperror.ErrUserNotFound
	}
	if err != nil {
		return 0, "", apperror.ErrStorage.Wrap(err)
	}
	return user.ID, user.Email, nil
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterHandler handles POST /register
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.Handle(c, nil, apperror.ErrMissingFields.WithMessage("Email and password are required"))
			return
		}

		if _, err := h.service.Register(c.Request.Context(), creds); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Created(c, gin.H{"message": "User created successfully"})
	}
}

// LoginHandler handles POST /login
func (h *GinHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.Handle(c, nil, apperror.ErrInvalidCredentials)
			return
		}

		resp, err := h.service.Login(c.Request.Context(), creds)
		response.Handle(c, resp, err)
	}
}

// TestAuthHandler handles GET /test-auth and echoes the token identity
func (h *GinHandlers) TestAuthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{
			"message": "Authentication successful",
			"user_id": middleware.Email(c),
		})
	}
}
