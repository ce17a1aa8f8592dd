package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"go.uber.org/zap"
)

const (
	// MinimumAge is the youngest age accepted for an identity.
	MinimumAge   = 18
	maxSecretLen = 72
	dobLayout    = "2006-01-02"
)

var noOpLogger = zap.NewNop()

// SecretHasher hashes and verifies secrets.
type SecretHasher interface {
	Hash(ctx context.Context, secret string) (string, error)
	Verify(ctx context.Context, secret, hashed string) (bool, error)
}

// TokenIssuer mints session tokens for authenticated identities.
type TokenIssuer interface {
	Issue(ctx context.Context, claims auth.Claims, ttl time.Duration) (auth.IssuedToken, error)
}

// ServiceConfig describes the dependencies of the identity workflows.
type ServiceConfig struct {
	Store    Store
	Hasher   SecretHasher
	Tokens   TokenIssuer
	TokenTTL time.Duration
	Logger   *zap.Logger
}

// Service implements registration, authentication and profile workflows.
type Service struct {
	store    Store
	hasher   SecretHasher
	tokens   TokenIssuer
	tokenTTL time.Duration
	logger   *zap.Logger
}

// NewService validates the configuration and constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", ErrInternal, "", errors.New("store is required"))
	}
	if cfg.Hasher == nil {
		return nil, newServiceError(opServiceNew, "missing_hasher", ErrInternal, "", errors.New("hasher is required"))
	}
	if cfg.Tokens == nil {
		return nil, newServiceError(opServiceNew, "missing_token_issuer", ErrInternal, "", errors.New("token issuer is required"))
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:    cfg.Store,
		hasher:   cfg.Hasher,
		tokens:   cfg.Tokens,
		tokenTTL: ttl,
		logger:   logger,
	}, nil
}

// RegistrationInput is the raw registration request.
type RegistrationInput struct {
	Handle      string
	Email       string
	Secret      string
	FullName    string
	FirstName   string
	LastName    string
	DateOfBirth string
	Age         int
	Gender      string
	Location    Location
	Bio         string
	Hobbies     []string
	// Photos are identifiers already written by the upload collaborator.
	Photos []string
}

// Register validates the input, hashes the secret and persists a new active identity.
func (s *Service) Register(ctx context.Context, input RegistrationInput) (Profile, error) {
	identity, err := s.prepareIdentity(input)
	if err != nil {
		return Profile{}, err
	}

	if err := s.ensureUnique(ctx, identity); err != nil {
		return Profile{}, err
	}

	hashed, err := s.hasher.Hash(ctx, input.Secret)
	if err != nil {
		s.logError(opRegister, "hash_failed", err)
		return Profile{}, newServiceError(opRegister, "hash_failed", ErrInternal, "", err)
	}
	identity.SecretHash = hashed

	id, err := s.store.Insert(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			return Profile{}, newServiceError(opRegister, "duplicate", ErrConflict, "email or username already registered", err)
		}
		s.logError(opRegister, "insert_failed", err, zap.String("email", identity.Email))
		return Profile{}, newServiceError(opRegister, "insert_failed", ErrInternal, "", err)
	}

	created, err := s.store.FindByID(ctx, id)
	if err != nil {
		s.logError(opRegister, "reload_failed", err, zap.String("identity_id", id))
		identity.ID = id
		created = identity
	}
	created.SecretHash = ""
	return created.Profile(), nil
}

func (s *Service) prepareIdentity(input RegistrationInput) (Identity, error) {
	firstName, lastName := deriveName(input.FullName, input.FirstName, input.LastName)
	identity := Identity{
		Handle:      normalize(input.Handle),
		Email:       normalizeEmail(input.Email),
		FirstName:   firstName,
		LastName:    lastName,
		DateOfBirth: normalize(input.DateOfBirth),
		Age:         input.Age,
		Location:    input.Location.normalized(),
		Bio:         normalize(input.Bio),
		Hobbies:     NormalizeHobbies(input.Hobbies),
		Photos:      compact(input.Photos),
		Status:      StatusActive,
	}

	var missing []string
	if identity.Handle == "" {
		missing = append(missing, "username")
	}
	if identity.Email == "" {
		missing = append(missing, "email")
	}
	if input.Secret == "" {
		missing = append(missing, "password")
	}
	if identity.FirstName == "" {
		missing = append(missing, "fullName")
	}
	if identity.DateOfBirth == "" {
		missing = append(missing, "dob")
	}
	if input.Age == 0 {
		missing = append(missing, "age")
	}
	if normalize(input.Gender) == "" {
		missing = append(missing, "gender")
	}
	if len(missing) > 0 {
		return Identity{}, newServiceError(opRegister, "missing_fields", ErrValidation,
			"missing required fields: "+strings.Join(missing, ", "), nil)
	}

	if !validEmail(identity.Email) {
		return Identity{}, newServiceError(opRegister, "invalid_email", ErrValidation, "email is not a valid address", nil)
	}
	if len(input.Secret) > maxSecretLen {
		return Identity{}, newServiceError(opRegister, "invalid_secret", ErrValidation,
			fmt.Sprintf("password must be at most %d bytes", maxSecretLen), nil)
	}
	gender, ok := ParseGender(input.Gender)
	if !ok {
		return Identity{}, newServiceError(opRegister, "invalid_gender", ErrValidation, genderMessage(), nil)
	}
	identity.Gender = gender
	if err := validateAttributes(opRegister, &identity.DateOfBirth, &identity.Age); err != nil {
		return Identity{}, err
	}
	return identity, nil
}

func (s *Service) ensureUnique(ctx context.Context, identity Identity) error {
	if _, err := s.store.FindByEmail(ctx, identity.Email); err == nil {
		return newServiceError(opRegister, "email_taken", ErrConflict, "email already registered", nil)
	} else if !errors.Is(err, ErrIdentityNotFound) {
		s.logError(opRegister, "lookup_failed", err, zap.String("email", identity.Email))
		return newServiceError(opRegister, "lookup_failed", ErrInternal, "", err)
	}

	if _, err := s.store.FindByHandle(ctx, identity.Handle); err == nil {
		return newServiceError(opRegister, "username_taken", ErrConflict, "username already registered", nil)
	} else if !errors.Is(err, ErrIdentityNotFound) {
		s.logError(opRegister, "lookup_failed", err, zap.String("handle", identity.Handle))
		return newServiceError(opRegister, "lookup_failed", ErrInternal, "", err)
	}
	return nil
}

// Session is the result of a successful authentication.
type Session struct {
	Token   auth.IssuedToken
	Profile Profile
}

// Authenticate verifies the credential and issues a session token. It performs no store write.
func (s *Service) Authenticate(ctx context.Context, email, secret string) (Session, error) {
	normalizedEmail := normalizeEmail(email)
	if normalizedEmail == "" || secret == "" {
		return Session{}, newServiceError(opAuthenticate, "missing_fields", ErrValidation, "email and password are required", nil)
	}

	identity, err := s.store.FindByEmail(ctx, normalizedEmail)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Session{}, newServiceError(opAuthenticate, "unknown_email", ErrNotFound, "user not found", nil)
		}
		s.logError(opAuthenticate, "lookup_failed", err)
		return Session{}, newServiceError(opAuthenticate, "lookup_failed", ErrInternal, "", err)
	}

	match, err := s.hasher.Verify(ctx, secret, identity.SecretHash)
	if err != nil {
		s.logError(opAuthenticate, "verify_failed", err, zap.String("identity_id", identity.ID))
		return Session{}, newServiceError(opAuthenticate, "verify_failed", ErrInternal, "", err)
	}
	if !match {
		return Session{}, newServiceError(opAuthenticate, "wrong_secret", ErrAuthentication, "incorrect password", nil)
	}

	token, err := s.tokens.Issue(ctx, auth.Claims{IdentityID: identity.ID, Email: identity.Email}, s.tokenTTL)
	if err != nil {
		s.logError(opAuthenticate, "token_issue_failed", err, zap.String("identity_id", identity.ID))
		return Session{}, newServiceError(opAuthenticate, "token_issue_failed", ErrInternal, "", err)
	}

	identity.SecretHash = ""
	return Session{Token: token, Profile: identity.Profile()}, nil
}

// Profile returns the identity for identityID without its secret hash.
func (s *Service) Profile(ctx context.Context, identityID string) (Profile, error) {
	identity, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Profile{}, newServiceError(opProfile, "not_found", ErrNotFound, "user not found", nil)
		}
		s.logError(opProfile, "lookup_failed", err, zap.String("identity_id", identityID))
		return Profile{}, newServiceError(opProfile, "lookup_failed", ErrInternal, "", err)
	}
	identity.SecretHash = ""
	return identity.Profile(), nil
}

// ProfileInput carries a partial profile update. Nil fields are untouched. Fields outside
// this set (email, username, password) cannot be changed here.
type ProfileInput struct {
	FullName    *string
	FirstName   *string
	LastName    *string
	DateOfBirth *string
	Age         *int
	Gender      *string
	Street      *string
	City        *string
	State       *string
	Country     *string
	PostalCode  *string
	Bio         *string
	Hobbies     []string
	HobbiesSet  bool
	Status      *string
	// Photos replace the stored list when non-empty; otherwise stored photos are kept.
	Photos []string
}

// UpdateProfile applies the recognized mutable fields of input to the identity.
func (s *Service) UpdateProfile(ctx context.Context, identityID string, input ProfileInput) (Profile, error) {
	update, err := buildUpdate(input)
	if err != nil {
		return Profile{}, err
	}

	identity, err := s.store.UpdateByID(ctx, identityID, update)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Profile{}, newServiceError(opUpdateProfile, "not_found", ErrNotFound, "user not found", nil)
		}
		s.logError(opUpdateProfile, "update_failed", err, zap.String("identity_id", identityID))
		return Profile{}, newServiceError(opUpdateProfile, "update_failed", ErrInternal, "", err)
	}
	identity.SecretHash = ""
	return identity.Profile(), nil
}

func buildUpdate(input ProfileInput) (IdentityUpdate, error) {
	update := IdentityUpdate{}

	if input.FullName != nil && input.FirstName == nil && input.LastName == nil {
		first, last := deriveName(*input.FullName, "", "")
		update.FirstName, update.LastName = &first, &last
	}
	if input.FirstName != nil {
		update.FirstName = trimmed(input.FirstName)
	}
	if input.LastName != nil {
		update.LastName = trimmed(input.LastName)
	}
	if update.FirstName != nil && *update.FirstName == "" {
		return IdentityUpdate{}, newServiceError(opUpdateProfile, "invalid_name", ErrValidation, "first name must not be empty", nil)
	}

	if input.DateOfBirth != nil {
		update.DateOfBirth = trimmed(input.DateOfBirth)
	}
	update.Age = input.Age
	if err := validateAttributes(opUpdateProfile, update.DateOfBirth, update.Age); err != nil {
		return IdentityUpdate{}, err
	}

	if input.Gender != nil {
		gender, ok := ParseGender(*input.Gender)
		if !ok {
			return IdentityUpdate{}, newServiceError(opUpdateProfile, "invalid_gender", ErrValidation, genderMessage(), nil)
		}
		update.Gender = &gender
	}
	if input.Status != nil {
		status, ok := ParseStatus(*input.Status)
		if !ok {
			return IdentityUpdate{}, newServiceError(opUpdateProfile, "invalid_status", ErrValidation,
				"status must be one of Active, Inactive, Banned", nil)
		}
		update.Status = &status
	}

	update.Street = trimmed(input.Street)
	update.City = trimmed(input.City)
	update.State = trimmed(input.State)
	update.Country = trimmed(input.Country)
	update.PostalCode = trimmed(input.PostalCode)
	update.Bio = trimmed(input.Bio)

	if input.HobbiesSet {
		hobbies := NormalizeHobbies(input.Hobbies)
		update.Hobbies = &hobbies
	}
	if photos := compact(input.Photos); len(photos) > 0 {
		update.Photos = &photos
	}
	return update, nil
}

// SetOnline toggles the online flag of the identity.
func (s *Service) SetOnline(ctx context.Context, identityID string, online bool) (Profile, error) {
	identity, err := s.store.UpdateByID(ctx, identityID, IdentityUpdate{Online: &online})
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Profile{}, newServiceError(opSetOnline, "not_found", ErrNotFound, "user not found", nil)
		}
		s.logError(opSetOnline, "update_failed", err, zap.String("identity_id", identityID))
		return Profile{}, newServiceError(opSetOnline, "update_failed", ErrInternal, "", err)
	}
	identity.SecretHash = ""
	return identity.Profile(), nil
}

// CountUsers returns the total, online and active identity counts.
func (s *Service) CountUsers(ctx context.Context) (UserCounts, error) {
	online := true
	total, err := s.store.Count(ctx, CountFilter{})
	if err != nil {
		s.logError(opCountUsers, "count_failed", err)
		return UserCounts{}, newServiceError(opCountUsers, "count_failed", ErrInternal, "", err)
	}
	onlineCount, err := s.store.Count(ctx, CountFilter{Online: &online})
	if err != nil {
		s.logError(opCountUsers, "count_failed", err)
		return UserCounts{}, newServiceError(opCountUsers, "count_failed", ErrInternal, "", err)
	}
	activeCount, err := s.store.Count(ctx, CountFilter{Status: StatusActive})
	if err != nil {
		s.logError(opCountUsers, "count_failed", err)
		return UserCounts{}, newServiceError(opCountUsers, "count_failed", ErrInternal, "", err)
	}
	return UserCounts{Total: total, Online: onlineCount, Active: activeCount}, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}

// NormalizeHobbies splits comma separated entries, trims them and drops empties.
func NormalizeHobbies(values []string) []string {
	hobbies := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if hobby := normalize(part); hobby != "" {
				hobbies = append(hobbies, hobby)
			}
		}
	}
	return hobbies
}

func validateAttributes(operation string, dob *string, age *int) error {
	if dob != nil {
		if _, err := time.Parse(dobLayout, *dob); err != nil {
			return newServiceError(operation, "invalid_dob", ErrValidation, "dob must be formatted as YYYY-MM-DD", nil)
		}
	}
	if age != nil && *age < MinimumAge {
		return newServiceError(operation, "underage", ErrValidation, fmt.Sprintf("age must be at least %d", MinimumAge), nil)
	}
	return nil
}

// deriveName prefers explicit first/last names and otherwise splits fullName on its first space.
func deriveName(fullName, firstName, lastName string) (string, string) {
	first, last := normalize(firstName), normalize(lastName)
	if first != "" || last != "" {
		if first == "" {
			return last, ""
		}
		return first, last
	}
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// validEmail accepts a bare address only, so display-name forms are rejected.
func validEmail(value string) bool {
	address, err := mail.ParseAddress(value)
	return err == nil && address.Address == value
}

func genderMessage() string {
	return fmt.Sprintf("gender must be one of %s, %s, %s", GenderMale, GenderFemale, GenderTransgender)
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	result := normalize(*value)
	return &result
}

func compact(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmedValue := normalize(value); trimmedValue != "" {
			result = append(result, trimmedValue)
		}
	}
	return result
}
